package afpacket

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// matchPortFilter assembles a classic BPF program equivalent to
// "ip and udp dst port <port>" over an Ethernet link.
//
// The kernel filter is a throughput optimization only: it covers plain
// untagged IPv4 and skips fragments, and the userspace classifier re-checks
// everything it admits. VLAN-tagged deployments should leave it off so the
// classifier sees the tagged frames.
func matchPortFilter(port uint16, snapLen int) ([]bpf.RawInstruction, error) {
	prog := []bpf.Instruction{
		// EtherType must be IPv4.
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x0800, SkipTrue: 8},
		// IP protocol must be UDP.
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: 6},
		// Skip fragments: ports are only present in the first fragment.
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 4},
		// X := IHL × 4; destination port sits at 14 + X + 2.
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(port), SkipTrue: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	}

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble match-port filter: %w", err)
	}
	return raw, nil
}

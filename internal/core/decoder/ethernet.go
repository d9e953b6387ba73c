// Package decoder implements bounds-checked L2-L4 header views over raw
// frames. Every function takes the whole frame plus an offset and validates
// the view against the frame bounds before touching any byte, so callers can
// use the returned offsets for in-place mutation without re-checking.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/portward/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// DecodeEthernet decodes the Ethernet frame header, skipping VLAN tags
// (including stacked QinQ). It returns the header view and the offset at
// which the network-layer header starts.
func DecodeEthernet(frame []byte) (core.EthernetHeader, int, error) {
	if len(frame) < ethernetHeaderLen {
		return core.EthernetHeader{}, 0, core.ErrFrameTooShort
	}

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], frame[0:6])
	copy(eth.SrcMAC[:], frame[6:12])

	etherType := binary.BigEndian.Uint16(frame[12:14])
	offset := ethernetHeaderLen

	// VLAN tags can be nested (QinQ)
	var vlans []uint16
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(frame) < offset+vlanHeaderLen {
			return eth, 0, core.ErrFrameTooShort
		}

		tci := binary.BigEndian.Uint16(frame[offset : offset+2])
		vlans = append(vlans, tci&0x0FFF)

		etherType = binary.BigEndian.Uint16(frame[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.VLANs = vlans

	return eth, offset, nil
}

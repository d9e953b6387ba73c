// Package afpacket implements the AF_PACKET (TPACKET v3) capture source.
package afpacket

import (
	"os"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"firestige.xyz/portward/internal/config"
	"firestige.xyz/portward/internal/core"
)

// Source reads raw frames from an AF_PACKET ring on one interface.
type Source struct {
	handle *afpacket.TPacket

	device    string
	frameSize int
	blockSize int
	numBlocks int
	timeoutMs int
	fanoutID  uint16
	filter    []bpf.RawInstruction
}

// NewSource creates a capture source for the given interface. When
// cfg.Filter is set, a kernel BPF pre-filter for "IPv4/UDP to matchPort" is
// attached so the ring only carries candidate frames.
func NewSource(cfg config.CaptureConfig, matchPort uint16) (*Source, error) {
	pageSize := os.Getpagesize()
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, pageSize)
	if err != nil {
		return nil, err
	}

	s := &Source{
		device:    cfg.Device,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		timeoutMs: cfg.TimeoutMs,
		fanoutID:  cfg.FanoutID,
	}

	if cfg.Filter {
		filter, err := matchPortFilter(matchPort, cfg.SnapLen)
		if err != nil {
			return nil, err
		}
		s.filter = filter
	}

	return s, nil
}

// Open sets up the TPACKET ring. Separate from NewSource so configuration
// errors surface before the process needs CAP_NET_RAW.
func (s *Source) Open() error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.timeoutMs),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return err
	}

	if s.fanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.fanoutID); err != nil {
			tp.Close()
			return err
		}
	}

	if s.filter != nil {
		if err := tp.SetBPF(s.filter); err != nil {
			tp.Close()
			return err
		}
	}

	s.handle = tp
	return nil
}

// ReadFrame reads the next frame from the ring. The returned slice is a
// private copy, so the caller may mutate it in place and hand it off.
func (s *Source) ReadFrame() (core.RawFrame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		return core.RawFrame{}, err
	}
	return core.RawFrame{
		Data:      data,
		Timestamp: ci.Timestamp,
		OrigLen:   ci.Length,
	}, nil
}

// Drops returns the number of frames the kernel dropped on the ring since
// the last call.
func (s *Source) Drops() (uint64, error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, err
	}
	return uint64(v3.Drops()), nil
}

// Close tears down the ring.
func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
	}
	return nil
}

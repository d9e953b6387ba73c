package decoder

import (
	"encoding/binary"

	"firestige.xyz/portward/internal/core"
)

// Port fields sit at the same offsets in UDP and TCP headers.
const transportPortsLen = 4

// DecodeTransport interprets the bytes at offset as the given transport
// protocol's header and decodes the port pair. Protocols other than TCP and
// UDP report core.ErrUnsupportedProto.
func DecodeTransport(frame []byte, offset int, protocol uint8) (core.TransportHeader, error) {
	switch protocol {
	case core.ProtocolTCP, core.ProtocolUDP:
		// src/dst ports occupy the first four bytes of both headers
	default:
		return core.TransportHeader{}, core.ErrUnsupportedProto
	}

	if offset < 0 || len(frame) < offset+transportPortsLen {
		return core.TransportHeader{}, core.ErrFrameTooShort
	}

	return core.TransportHeader{
		Protocol: protocol,
		SrcPort:  binary.BigEndian.Uint16(frame[offset : offset+2]),
		DstPort:  binary.BigEndian.Uint16(frame[offset+2 : offset+4]),
	}, nil
}

// ClassifyTransport walks L2 and L3 and tentatively decodes the transport
// header beneath them. Any frame that cannot be classified down to a TCP or
// UDP port pair is reported with the decode error so callers can fail open.
func ClassifyTransport(frame []byte) (core.TransportHeader, error) {
	ip, l3, err := DecodeNetwork(frame)
	if err != nil {
		return core.TransportHeader{}, err
	}
	return DecodeTransport(frame, l3+ip.HeaderLen, ip.Protocol)
}

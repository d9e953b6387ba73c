package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/portward/internal/core"
)

const ipv4HeaderMinLen = 20

// DecodeIPv4 decodes the IPv4 header starting at offset. The returned view
// is only valid if the full header (fixed part plus options) lies within the
// frame bounds.
//
// Non-IPv4 content at offset reports core.ErrNotIP so callers can
// distinguish "not our layer" from a truncated or corrupt IPv4 header.
func DecodeIPv4(frame []byte, offset int) (core.IPv4Header, error) {
	if offset < 0 || len(frame) < offset+1 {
		return core.IPv4Header{}, core.ErrFrameTooShort
	}

	if version := frame[offset] >> 4; version != 4 {
		return core.IPv4Header{}, core.ErrNotIP
	}

	if len(frame) < offset+ipv4HeaderMinLen {
		return core.IPv4Header{}, core.ErrFrameTooShort
	}

	hdr := frame[offset:]

	// IHL is expressed in 32-bit words
	ihl := int(hdr[0] & 0x0F)
	headerLen := ihl * 4
	if headerLen < ipv4HeaderMinLen {
		return core.IPv4Header{}, core.ErrMalformedHeader
	}
	if len(frame) < offset+headerLen {
		return core.IPv4Header{}, core.ErrFrameTooShort
	}

	ip := core.IPv4Header{
		HeaderLen: headerLen,
		TotalLen:  binary.BigEndian.Uint16(hdr[2:4]),
		TTL:       hdr[8],
		Protocol:  hdr[9],
	}

	src, _ := netip.AddrFromSlice(hdr[12:16])
	dst, _ := netip.AddrFromSlice(hdr[16:20])
	ip.SrcIP = src
	ip.DstIP = dst

	return ip, nil
}

// DecodeNetwork walks the link layer and decodes the network header beneath
// it. It returns the IPv4 view and the offset at which it starts.
// Frames carrying anything other than IPv4 (ARP, LLDP, IPv6, ...) report
// core.ErrNotIP.
func DecodeNetwork(frame []byte) (core.IPv4Header, int, error) {
	eth, l3, err := DecodeEthernet(frame)
	if err != nil {
		return core.IPv4Header{}, 0, err
	}

	switch eth.EtherType {
	case etherTypeIPv4:
		// fall through to the IPv4 decode below
	case etherTypeIPv6:
		return core.IPv4Header{}, 0, core.ErrNotIP
	default:
		return core.IPv4Header{}, 0, core.ErrNotIP
	}

	ip, err := DecodeIPv4(frame, l3)
	if err != nil {
		return core.IPv4Header{}, 0, err
	}
	return ip, l3, nil
}

// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// IP protocol numbers used throughout the classifier.
const (
	ProtocolTCP = 6
	ProtocolUDP = 17
)

// EthernetHeader represents the L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IPv4Header is a view over an IPv4 network header.
// HeaderLen is the decoded header length in bytes (IHL field × 4),
// so the transport header starts at the view's offset plus HeaderLen.
type IPv4Header struct {
	HeaderLen int
	TotalLen  uint16
	TTL       uint8
	Protocol  uint8
	SrcIP     netip.Addr
	DstIP     netip.Addr
}

// TransportHeader is a view over a UDP or TCP header.
// Only the port fields are decoded; everything else stays in the frame.
type TransportHeader struct {
	Protocol uint8 // TCP=6, UDP=17
	SrcPort  uint16
	DstPort  uint16
}

// RawFrame is one frame captured from the network interface,
// a zero-copy reference into the capture ring. The slice bounds are the
// frame bounds: every decode and every mutation is validated against them.
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
	OrigLen   int
}

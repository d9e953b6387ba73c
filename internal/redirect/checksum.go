package redirect

import (
	"encoding/binary"
	"fmt"
)

// ChecksumPolicy decides what happens to the UDP checksum after the
// destination port has been rewritten.
//
// The reference deployment leaves the now-stale checksum in place, which is
// tolerable only because UDP checksums are optional over IPv4. It is kept as
// the default; zeroing and full recomputation are available for receivers
// that verify.
type ChecksumPolicy int

const (
	// ChecksumPreserve leaves the original checksum bytes untouched.
	ChecksumPreserve ChecksumPolicy = iota
	// ChecksumZero clears the checksum, marking it "not computed" per the
	// IPv4 UDP rules.
	ChecksumZero
	// ChecksumRecompute recomputes the checksum over the pseudo-header,
	// UDP header and payload.
	ChecksumRecompute
)

func (p ChecksumPolicy) String() string {
	switch p {
	case ChecksumPreserve:
		return "preserve"
	case ChecksumZero:
		return "zero"
	case ChecksumRecompute:
		return "recompute"
	default:
		return "unknown"
	}
}

// ParseChecksumPolicy parses a policy name from configuration.
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch s {
	case "", "preserve":
		return ChecksumPreserve, nil
	case "zero":
		return ChecksumZero, nil
	case "recompute":
		return ChecksumRecompute, nil
	default:
		return ChecksumPreserve, fmt.Errorf("unknown checksum policy: %s (must be preserve/zero/recompute)", s)
	}
}

// UDP checksum field offset within the UDP header.
const udpChecksumOffset = 6

// applyChecksumPolicy adjusts the UDP checksum field at l4+6 after the port
// write. The caller has already validated l4+rewriteSpan against the frame
// bounds, which covers the checksum field.
func (r *Redirector) applyChecksumPolicy(frame []byte, l3, l4 int) {
	switch r.policy {
	case ChecksumPreserve:
		// Stale on purpose.
	case ChecksumZero:
		frame[l4+udpChecksumOffset] = 0
		frame[l4+udpChecksumOffset+1] = 0
	case ChecksumRecompute:
		binary.BigEndian.PutUint16(frame[l4+udpChecksumOffset:], 0)
		sum := udpChecksum(frame, l3, l4)
		// An all-zero computed checksum is transmitted as 0xFFFF so that
		// zero keeps meaning "not computed".
		if sum == 0 {
			sum = 0xFFFF
		}
		binary.BigEndian.PutUint16(frame[l4+udpChecksumOffset:], sum)
	}
}

// netChecksum computes the one's complement checksum over data, as used by
// the IP and UDP checksums.
func netChecksum(data []byte) uint16 {
	var sum uint32
	length := len(data)
	for i := 0; i+1 < length; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if length%2 != 0 {
		sum += uint32(data[length-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// udpChecksum computes the UDP checksum for the datagram at l4, using the
// pseudo-header drawn from the IPv4 header at l3. The checksum field itself
// must already be zeroed. The UDP length field bounds the summed region; a
// length running past the frame is clamped to the capture bounds.
func udpChecksum(frame []byte, l3, l4 int) uint16 {
	udpLen := int(binary.BigEndian.Uint16(frame[l4+4 : l4+6]))
	end := l4 + udpLen
	if udpLen < 8 || end > len(frame) {
		end = len(frame)
		udpLen = end - l4
	}

	// Pseudo-header: src IP, dst IP, zero, protocol, UDP length.
	buf := make([]byte, 0, 12+udpLen)
	buf = append(buf, frame[l3+12:l3+20]...)
	buf = append(buf, 0, frame[l3+9])
	buf = binary.BigEndian.AppendUint16(buf, uint16(udpLen))
	buf = append(buf, frame[l4:end]...)

	return netChecksum(buf)
}

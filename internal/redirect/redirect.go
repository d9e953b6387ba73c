// Package redirect implements the frame classifier and rewriter: it decides,
// per captured frame, whether the frame is an IPv4/UDP datagram aimed at the
// watched destination port and, if so, retargets it in place to the rewrite
// port. Everything else passes through byte-for-byte untouched.
package redirect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/portward/internal/core"
	"firestige.xyz/portward/internal/core/decoder"
)

// Default redirect rule, matching the reference deployment.
const (
	DefaultMatchPort   = 9875
	DefaultRewritePort = 9876
)

const (
	// Destination port field offset within a UDP header.
	udpDstPortOffset = 2

	// rewriteSpan is the conservative width validated before the 2-byte
	// port write: a full machine word starting at the transport header.
	rewriteSpan = 8
)

// Rule is the redirect rule: rewrite the destination port of UDP datagrams
// addressed to MatchPort so they land on RewritePort instead.
type Rule struct {
	MatchPort   uint16
	RewritePort uint16
}

// Validate reports whether the rule is usable.
func (r Rule) Validate() error {
	if r.MatchPort == 0 || r.RewritePort == 0 {
		return fmt.Errorf("%w: redirect ports must be non-zero", core.ErrConfigInvalid)
	}
	if r.MatchPort == r.RewritePort {
		return fmt.Errorf("%w: match and rewrite port are both %d", core.ErrConfigInvalid, r.MatchPort)
	}
	return nil
}

// Redirector classifies frames and mutates matching ones in place. It holds
// no per-frame state, so a single instance is safe to share across capture
// queues.
type Redirector struct {
	rule   Rule
	policy ChecksumPolicy
	log    *slog.Logger

	stats statistics

	// Diagnostic messages are fixed at construction; the per-frame path
	// never formats dynamic values.
	msgNonUDP     string
	msgMatched    string
	msgRedirected string
}

// New creates a Redirector for the given rule and checksum policy.
func New(rule Rule, policy ChecksumPolicy, log *slog.Logger) (*Redirector, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redirector{
		rule:   rule,
		policy: policy,
		log:    log,

		msgNonUDP:     "received non-UDP traffic, skipping",
		msgMatched:    fmt.Sprintf("got UDP traffic on port %d", rule.MatchPort),
		msgRedirected: fmt.Sprintf("redirected UDP traffic from port %d to %d", rule.MatchPort, rule.RewritePort),
	}, nil
}

// Rule returns the redirect rule the instance was built with.
func (r *Redirector) Rule() Rule { return r.rule }

type statistics struct {
	matched           atomic.Uint64
	rewritten         atomic.Uint64
	nonUDPOnMatchPort atomic.Uint64
}

// Stats is a snapshot of the redirector's monotonic counters.
type Stats struct {
	Matched           uint64
	Rewritten         uint64
	NonUDPOnMatchPort uint64
}

// Stats returns a snapshot of the counters.
func (r *Redirector) Stats() Stats {
	return Stats{
		Matched:           r.stats.matched.Load(),
		Rewritten:         r.stats.rewritten.Load(),
		NonUDPOnMatchPort: r.stats.nonUDPOnMatchPort.Load(),
	}
}

// Process runs the classify-and-rewrite sequence on one frame. It performs
// at most one in-place mutation (the 2-byte destination port, plus the UDP
// checksum field when the policy asks for it) and never touches bytes
// outside the slice bounds.
//
// The verdict is always a pass: on a bounds violation the frame is left
// untouched, the error is surfaced, and the verdict still tells the caller
// to let the frame through unmodified.
func (r *Redirector) Process(frame []byte) (core.Verdict, error) {
	// Tentative transport classification. Any parse ambiguity fails open:
	// correctness of unrelated traffic takes priority over redirect
	// coverage.
	transport, err := decoder.ClassifyTransport(frame)
	if err != nil {
		return core.VerdictPass, nil
	}

	// Network header backing the classification. Non-IP link traffic such
	// as ARP passes through; any other failure here is impossible once a
	// transport header was classified, so it surfaces as a broken decoder
	// contract rather than a per-frame error.
	ip, l3, err := decoder.DecodeNetwork(frame)
	if errors.Is(err, core.ErrNotIP) {
		return core.VerdictPass, nil
	}
	if err != nil {
		panic(fmt.Sprintf("portward: network header unreadable after transport classification: %v", err))
	}

	// Cheap port match first: traffic not aimed at the watched port is
	// irrelevant regardless of protocol.
	if transport.DstPort != r.rule.MatchPort {
		return core.VerdictPass, nil
	}

	// Same port number, wrong transport protocol (e.g. TCP on 9875).
	if transport.Protocol != core.ProtocolUDP {
		r.stats.nonUDPOnMatchPort.Add(1)
		r.log.Info(r.msgNonUDP)
		return core.VerdictPass, nil
	}

	r.stats.matched.Add(1)
	r.log.Info(r.msgMatched)

	// Transport header offset: network header start + IHL × 4. HeaderLen
	// already carries the ×4, so options-bearing headers shift the write
	// location with no special casing.
	l4 := l3 + ip.HeaderLen

	// The write must stay inside the frame. Checked against a full
	// machine-word span over the header start, wider than the 2-byte field
	// itself.
	if l4 < 0 || l4+rewriteSpan > len(frame) {
		return core.VerdictPass, fmt.Errorf("%w: transport header at %d, frame is %d bytes",
			core.ErrBoundsViolation, l4, len(frame))
	}

	binary.BigEndian.PutUint16(frame[l4+udpDstPortOffset:l4+udpDstPortOffset+2], r.rule.RewritePort)
	r.applyChecksumPolicy(frame, l3, l4)

	r.stats.rewritten.Add(1)
	r.log.Info(r.msgRedirected)
	return core.VerdictPassRewritten, nil
}

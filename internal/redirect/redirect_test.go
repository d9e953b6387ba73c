package redirect

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/portward/internal/core"
)

// testRule is the default 9875 -> 9876 pair used across the tests.
var testRule = Rule{MatchPort: DefaultMatchPort, RewritePort: DefaultRewritePort}

func newTestRedirector(t *testing.T, rule Rule, policy ChecksumPolicy) *Redirector {
	t.Helper()
	r, err := New(rule, policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

type frameSpec struct {
	protocol  uint8 // core.ProtocolUDP or core.ProtocolTCP
	srcPort   uint16
	dstPort   uint16
	vlanID    uint16 // 0 = untagged
	ipOptions []byte // length must be a multiple of 4
	payload   []byte
	checksum  uint16 // initial transport checksum bytes
}

// buildFrame assembles an Ethernet + IPv4 + UDP/TCP frame by hand so tests
// control every byte.
func buildFrame(spec frameSpec) []byte {
	ipLen := 20 + len(spec.ipOptions)

	var transport []byte
	switch spec.protocol {
	case core.ProtocolUDP:
		transport = make([]byte, 8)
		binary.BigEndian.PutUint16(transport[0:2], spec.srcPort)
		binary.BigEndian.PutUint16(transport[2:4], spec.dstPort)
		binary.BigEndian.PutUint16(transport[4:6], uint16(8+len(spec.payload)))
		binary.BigEndian.PutUint16(transport[6:8], spec.checksum)
	case core.ProtocolTCP:
		transport = make([]byte, 20)
		binary.BigEndian.PutUint16(transport[0:2], spec.srcPort)
		binary.BigEndian.PutUint16(transport[2:4], spec.dstPort)
		transport[12] = 0x50 // data offset 5
		binary.BigEndian.PutUint16(transport[16:18], spec.checksum)
	}

	ip := make([]byte, ipLen)
	ip[0] = 0x40 | byte(ipLen/4)
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen+len(transport)+len(spec.payload)))
	ip[8] = 64
	ip[9] = spec.protocol
	copy(ip[12:16], []byte{127, 0, 0, 1})
	copy(ip[16:20], []byte{127, 0, 0, 1})
	copy(ip[20:], spec.ipOptions)

	frame := make([]byte, 0, 18+ipLen+len(transport)+len(spec.payload))
	frame = append(frame,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB,
	)
	if spec.vlanID != 0 {
		frame = append(frame, 0x81, 0x00, byte(spec.vlanID>>8), byte(spec.vlanID))
	}
	frame = append(frame, 0x08, 0x00)
	frame = append(frame, ip...)
	frame = append(frame, transport...)
	frame = append(frame, spec.payload...)
	return frame
}

func clone(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

// diffIndexes returns the indexes at which the two slices differ.
func diffIndexes(a, b []byte) []int {
	var diff []int
	for i := range a {
		if a[i] != b[i] {
			diff = append(diff, i)
		}
	}
	return diff
}

// ── P1: passthrough invariance ──

func TestPassthroughNonIP(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	arp := make([]byte, 60)
	arp[12], arp[13] = 0x08, 0x06
	orig := clone(arp)

	verdict, err := r.Process(arp)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
	assert.True(t, bytes.Equal(orig, arp), "frame must be byte-for-byte untouched")
}

func TestPassthroughIPv6(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := make([]byte, 80)
	frame[12], frame[13] = 0x86, 0xDD
	frame[14] = 0x60
	orig := clone(frame)

	verdict, err := r.Process(frame)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
	assert.True(t, bytes.Equal(orig, frame))
}

func TestPassthroughWrongPort(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  53,
		payload:  []byte("wrong port"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
	assert.True(t, bytes.Equal(orig, frame))
}

func TestPassthroughTruncatedGarbage(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	for _, frame := range [][]byte{
		nil,
		{0x01},
		make([]byte, 13),
	} {
		orig := clone(frame)
		verdict, err := r.Process(frame)
		assert.NoError(t, err)
		assert.Equal(t, core.VerdictPass, verdict)
		assert.True(t, bytes.Equal(orig, frame))
	}
}

// ── P2: exact single-field mutation ──

func TestRewriteExactField(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  9875,
		payload:  []byte("testing port redirect"),
		checksum: 0xABCD,
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPassRewritten, verdict)

	// Exactly the 2 destination-port bytes changed: 14 (eth) + 20 (ip) + 2.
	assert.Equal(t, []int{36, 37}, diffIndexes(orig, frame))
	assert.Equal(t, uint16(9876), binary.BigEndian.Uint16(frame[36:38]))

	// Source port, checksum and payload untouched.
	assert.Equal(t, uint16(36611), binary.BigEndian.Uint16(frame[34:36]))
	assert.Equal(t, uint16(0xABCD), binary.BigEndian.Uint16(frame[40:42]))
	assert.Equal(t, []byte("testing port redirect"), frame[42:])
}

// ── P3: variable header length correctness ──

func TestRewriteWithIPOptions(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	// IHL 6: 4 bytes of options shift the transport header by 4.
	frame := buildFrame(frameSpec{
		protocol:  core.ProtocolUDP,
		srcPort:   36611,
		dstPort:   9875,
		ipOptions: []byte{0x01, 0x01, 0x01, 0x00},
		payload:   []byte("options"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPassRewritten, verdict)

	// 14 (eth) + 24 (ip with options) + 2.
	assert.Equal(t, []int{40, 41}, diffIndexes(orig, frame))
	assert.Equal(t, uint16(9876), binary.BigEndian.Uint16(frame[40:42]))
}

func TestRewriteVLANTagged(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	// An 802.1Q tag shifts every network-layer offset by 4.
	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  9875,
		vlanID:   100,
		payload:  []byte("tagged"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPassRewritten, verdict)

	// 18 (eth + tag) + 20 (ip) + 2.
	assert.Equal(t, []int{40, 41}, diffIndexes(orig, frame))
	assert.Equal(t, uint16(9876), binary.BigEndian.Uint16(frame[40:42]))
	assert.Equal(t, []byte{0x81, 0x00, 0x00, 0x64}, frame[12:16], "tag itself must be untouched")
}

// ── P4: protocol discrimination ──

func TestTCPOnMatchPortPassthrough(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolTCP,
		srcPort:  8080,
		dstPort:  9875,
		payload:  []byte("tcp on the watched port"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
	assert.True(t, bytes.Equal(orig, frame), "TCP frame must never be mutated")
	assert.Equal(t, uint64(1), r.Stats().NonUDPOnMatchPort)
	assert.Equal(t, uint64(0), r.Stats().Rewritten)
}

// ── P5: bounds safety ──

func TestBoundsViolationOnTruncatedFrame(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	full := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  9875,
		payload:  []byte("truncated"),
	})
	// Keep eth + ip + the port pair only: classification still succeeds,
	// but the machine-word span over the header start does not fit.
	frame := clone(full[:14+20+4])
	orig := clone(frame)

	verdict, err := r.Process(frame)
	assert.ErrorIs(t, err, core.ErrBoundsViolation)
	assert.Equal(t, core.VerdictPass, verdict, "frame must still default to pass")
	assert.True(t, bytes.Equal(orig, frame), "no write may occur on a bounds violation")
	assert.Equal(t, uint64(0), r.Stats().Rewritten)
}

// ── Scenarios ──

func TestScenarioMinimalRedirect(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  9875,
		payload:  []byte("testing port redirect"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPassRewritten, verdict)

	// Identical frame except the destination port now encodes 9876.
	expected := clone(orig)
	binary.BigEndian.PutUint16(expected[36:38], 9876)
	assert.True(t, bytes.Equal(expected, frame))
}

func TestScenarioDNSUntouched(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  36611,
		dstPort:  53,
		payload:  []byte("testing port redirect"),
	})
	orig := clone(frame)

	verdict, err := r.Process(frame)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
	assert.True(t, bytes.Equal(orig, frame))
}

func TestAlternatePortPair(t *testing.T) {
	r := newTestRedirector(t, Rule{MatchPort: 5000, RewritePort: 6000}, ChecksumPreserve)

	frame := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  1234,
		dstPort:  5000,
		payload:  []byte("alternate rule"),
	})

	verdict, err := r.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPassRewritten, verdict)
	assert.Equal(t, uint16(6000), binary.BigEndian.Uint16(frame[36:38]))

	// The default pair no longer matches.
	other := buildFrame(frameSpec{
		protocol: core.ProtocolUDP,
		srcPort:  1234,
		dstPort:  9875,
	})
	verdict, err = r.Process(other)
	assert.NoError(t, err)
	assert.Equal(t, core.VerdictPass, verdict)
}

// ── Diagnostics ──

func TestDiagnosticMessages(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(testRule, ChecksumPreserve, slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)

	udp := buildFrame(frameSpec{protocol: core.ProtocolUDP, srcPort: 36611, dstPort: 9875})
	_, err = r.Process(udp)
	require.NoError(t, err)

	tcp := buildFrame(frameSpec{protocol: core.ProtocolTCP, srcPort: 8080, dstPort: 9875})
	_, err = r.Process(tcp)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "got UDP traffic on port 9875")
	assert.Contains(t, out, "redirected UDP traffic from port 9875 to 9876")
	assert.Contains(t, out, "received non-UDP traffic, skipping")
}

// ── Rule validation ──

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, testRule.Validate())
	assert.ErrorIs(t, Rule{MatchPort: 0, RewritePort: 9876}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Rule{MatchPort: 9875, RewritePort: 0}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Rule{MatchPort: 9875, RewritePort: 9875}.Validate(), core.ErrConfigInvalid)
}

func TestNewRejectsInvalidRule(t *testing.T) {
	_, err := New(Rule{}, ChecksumPreserve, nil)
	assert.Error(t, err)
}

// ── Statistics ──

func TestStatsProgression(t *testing.T) {
	r := newTestRedirector(t, testRule, ChecksumPreserve)

	for i := 0; i < 3; i++ {
		frame := buildFrame(frameSpec{protocol: core.ProtocolUDP, srcPort: 36611, dstPort: 9875})
		_, err := r.Process(frame)
		require.NoError(t, err)
	}

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Matched)
	assert.Equal(t, uint64(3), stats.Rewritten)
	assert.Equal(t, uint64(0), stats.NonUDPOnMatchPort)
}

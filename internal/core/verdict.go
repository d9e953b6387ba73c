package core

// Verdict is the per-frame decision outcome. Both verdicts result in the
// frame being forwarded normally; they differ only in whether an in-place
// mutation happened.
type Verdict int

const (
	// VerdictPass leaves the frame byte-for-byte untouched.
	VerdictPass Verdict = iota
	// VerdictPassRewritten forwards the frame after an in-place rewrite.
	VerdictPassRewritten
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictPassRewritten:
		return "pass-rewritten"
	default:
		return "unknown"
	}
}

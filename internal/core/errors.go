// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, identified with errors.Is across package boundaries.
var (
	// Frame decoding errors
	ErrFrameTooShort    = errors.New("portward: frame too short")
	ErrNotIP            = errors.New("portward: not an IP frame")
	ErrUnsupportedProto = errors.New("portward: unsupported protocol")
	ErrMalformedHeader  = errors.New("portward: malformed header")

	// Rewrite errors
	ErrBoundsViolation = errors.New("portward: write outside frame bounds")

	// Pipeline errors
	ErrPipelineStopped = errors.New("portward: pipeline stopped")

	// Configuration errors
	ErrConfigInvalid = errors.New("portward: invalid configuration")
)

// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/portward/internal/redirect"
)

var (
	// FramesTotal counts captured frames by final verdict.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portward_frames_total",
			Help: "Total number of frames processed, by verdict",
		},
		[]string{"verdict"},
	)

	// RedirectedTotal counts frames whose destination port was rewritten.
	RedirectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portward_redirected_total",
			Help: "Total number of UDP datagrams retargeted to the rewrite port",
		},
	)

	// BoundsViolationsTotal counts rewrites refused by the bounds check.
	BoundsViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portward_bounds_violations_total",
			Help: "Total number of rewrites refused because the write location fell outside the frame",
		},
	)

	// InjectErrorsTotal counts failed re-injections of rewritten frames.
	InjectErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portward_inject_errors_total",
			Help: "Total number of rewritten frames that failed to re-inject",
		},
	)

	// CaptureDropsTotal counts frames dropped by the capture ring.
	CaptureDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portward_capture_drops_total",
			Help: "Total number of frames dropped before reaching the pipeline",
		},
	)
)

// RegisterRedirector exposes the redirector's own counters. The redirector
// keeps plain atomics on its hot path; the collector reads them on scrape.
func RegisterRedirector(r *redirect.Redirector) {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "portward_matched_total",
			Help: "Total number of UDP datagrams seen on the watched destination port",
		}, func() float64 { return float64(r.Stats().Matched) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "portward_non_udp_on_match_port_total",
			Help: "Total number of non-UDP frames seen on the watched destination port",
		}, func() float64 { return float64(r.Stats().NonUDPOnMatchPort) }),
	)
}

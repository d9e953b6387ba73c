// Package agent wires configuration, capture, redirect and metrics into a
// running process.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"firestige.xyz/portward/internal/config"
	"firestige.xyz/portward/internal/inject"
	"firestige.xyz/portward/internal/metrics"
	"firestige.xyz/portward/internal/pipeline"
	"firestige.xyz/portward/internal/redirect"
	"firestige.xyz/portward/internal/source/afpacket"
)

// Agent owns the redirect pipeline and its supporting services.
type Agent struct {
	cfg *config.GlobalConfig

	redirector    *redirect.Redirector
	source        *afpacket.Source
	injector      *inject.Injector // nil when re-injection is disabled
	pipeline      *pipeline.Pipeline
	metricsServer *metrics.Server // nil when metrics are disabled
}

// New builds the agent from validated configuration. Nothing touches the
// network yet; privileged setup happens in Run.
func New(cfg *config.GlobalConfig) (*Agent, error) {
	redirector, err := redirect.New(cfg.Rule(), cfg.Policy(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to build redirector: %w", err)
	}

	source, err := afpacket.NewSource(cfg.Capture, cfg.Redirect.MatchPort)
	if err != nil {
		return nil, fmt.Errorf("failed to build capture source: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		redirector: redirector,
		source:     source,
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(cfg.Metrics)
		metrics.RegisterRedirector(redirector)
	}

	return a, nil
}

// Run opens the capture ring and injection socket, starts the pipeline and
// blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	rule := a.redirector.Rule()
	slog.Info("starting portward agent",
		"device", a.cfg.Capture.Device,
		"match_port", rule.MatchPort,
		"rewrite_port", rule.RewritePort,
		"checksum_policy", a.cfg.Redirect.ChecksumPolicy,
	)

	if err := a.source.Open(); err != nil {
		return fmt.Errorf("failed to open capture ring on %s: %w", a.cfg.Capture.Device, err)
	}

	if a.cfg.Redirect.Inject {
		injector, err := inject.New(a.cfg.Capture.Device)
		if err != nil {
			a.source.Close()
			return fmt.Errorf("failed to open injection socket: %w", err)
		}
		a.injector = injector
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	pcfg := pipeline.Config{
		Source:     a.source,
		Redirector: a.redirector,
		BufferSize: a.cfg.Capture.ChannelCapacity,
	}
	if a.injector != nil {
		// Assign only when present: a typed nil would defeat the
		// pipeline's nil check.
		pcfg.Injector = a.injector
	}
	a.pipeline = pipeline.New(pcfg)
	if err := a.pipeline.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	return a.shutdown()
}

func (a *Agent) shutdown() error {
	if err := a.pipeline.Stop(); err != nil {
		slog.Error("pipeline stop failed", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(context.Background()); err != nil {
			slog.Error("metrics server stop failed", "error", err)
		}
	}

	stats := a.redirector.Stats()
	slog.Info("portward agent stopped",
		"matched", stats.Matched,
		"rewritten", stats.Rewritten,
		"non_udp_on_match_port", stats.NonUDPOnMatchPort,
	)
	return nil
}

// Package pipeline implements the frame processing pipeline engine.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/portward/internal/core"
	"firestige.xyz/portward/internal/metrics"
	"firestige.xyz/portward/internal/redirect"
)

// FrameSource supplies captured frames. ReadFrame blocks until a frame is
// available or the source is closed.
type FrameSource interface {
	ReadFrame() (core.RawFrame, error)
	Close() error
}

// Injector re-sends a rewritten frame toward the host receive path.
type Injector interface {
	Inject(frame []byte) error
	Close() error
}

// DropsReporter is implemented by sources that can report kernel-side drops.
type DropsReporter interface {
	Drops() (uint64, error)
}

// Pipeline is a single-threaded capture → classify/rewrite → inject chain.
// Multiple pipelines may run side by side (fanout); the redirector is
// stateless, so they share one instance safely.
type Pipeline struct {
	source     FrameSource
	redirector *redirect.Redirector
	injector   Injector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameChan chan core.RawFrame
}

// Config contains pipeline configuration.
type Config struct {
	Source     FrameSource
	Redirector *redirect.Redirector
	Injector   Injector // nil disables re-injection
	BufferSize int      // frame channel capacity
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		source:     cfg.Source,
		redirector: cfg.Redirector,
		injector:   cfg.Injector,
		ctx:        ctx,
		cancel:     cancel,
		frameChan:  make(chan core.RawFrame, cfg.BufferSize),
	}
}

// Start starts the pipeline goroutines.
func (p *Pipeline) Start() error {
	slog.Info("pipeline starting", "rule", p.redirector.Rule())

	p.wg.Add(1)
	go p.captureLoop()

	p.wg.Add(1)
	go p.processLoop()

	if dr, ok := p.source.(DropsReporter); ok {
		p.wg.Add(1)
		go p.statsLoop(dr)
	}

	return nil
}

// Stop stops the pipeline gracefully.
func (p *Pipeline) Stop() error {
	slog.Info("pipeline stopping")

	p.cancel()
	if err := p.source.Close(); err != nil {
		slog.Error("source close failed", "error", err)
	}
	p.wg.Wait()

	if p.injector != nil {
		if err := p.injector.Close(); err != nil {
			slog.Error("injector close failed", "error", err)
		}
	}

	slog.Info("pipeline stopped")
	return nil
}

// captureLoop reads frames from the source into the processing channel.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()
	defer close(p.frameChan)

	for {
		if p.ctx.Err() != nil {
			return
		}

		frame, err := p.source.ReadFrame()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			// Poll timeouts and transient ring errors: try again.
			slog.Debug("frame read failed", "error", err)
			continue
		}

		select {
		case p.frameChan <- frame:
		case <-p.ctx.Done():
			return
		}
	}
}

// processLoop runs the redirector over each frame and re-injects rewrites.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case frame, ok := <-p.frameChan:
			if !ok {
				return
			}
			p.processFrame(frame)
		}
	}
}

// processFrame classifies one frame and handles the outcome. A bounds
// violation leaves the frame untouched and is surfaced as a counted error;
// processing always continues with the next frame.
func (p *Pipeline) processFrame(frame core.RawFrame) {
	verdict, err := p.redirector.Process(frame.Data)
	if err != nil {
		if errors.Is(err, core.ErrBoundsViolation) {
			metrics.BoundsViolationsTotal.Inc()
			slog.Warn("rewrite refused", "error", err, "capture_len", len(frame.Data), "orig_len", frame.OrigLen)
		} else {
			slog.Error("frame processing failed", "error", err)
		}
	}

	metrics.FramesTotal.WithLabelValues(verdict.String()).Inc()

	if verdict != core.VerdictPassRewritten {
		return
	}
	metrics.RedirectedTotal.Inc()

	if p.injector == nil {
		return
	}
	if err := p.injector.Inject(frame.Data); err != nil {
		metrics.InjectErrorsTotal.Inc()
		slog.Error("frame injection failed", "error", err)
	}
}

// statsLoop periodically folds kernel-side ring drops into the metrics.
func (p *Pipeline) statsLoop(dr DropsReporter) {
	defer p.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			drops, err := dr.Drops()
			if err != nil {
				continue
			}
			if drops > 0 {
				metrics.CaptureDropsTotal.Add(float64(drops))
			}
		}
	}
}

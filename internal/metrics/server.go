package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/portward/internal/config"
)

// Server exposes the Prometheus scrape endpoint for the agent's counters.
type Server struct {
	cfg      config.MetricsConfig
	listener net.Listener
	server   *http.Server
}

// NewServer builds the scrape server from the metrics config section. The
// scrape path falls back to /metrics when left empty.
func NewServer(cfg config.MetricsConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &Server{cfg: cfg}
}

// Start binds the listen address and begins serving scrapes. Binding happens
// here rather than in the serve goroutine so an occupied port fails startup
// instead of logging after the fact.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener on %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.Handler())

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("metrics server listening", "addr", ln.Addr(), "path", s.cfg.Path)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Addr reports the bound listen address. Valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight scrapes and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}

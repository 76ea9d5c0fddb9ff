// Package server implements HTTP server for health checks and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config contains listener ports and paths.
type Config struct {
	HealthPort     int
	MetricsPort    int
	MetricsEnabled bool
	LivenessPath   string
	ReadinessPath  string
	MetricsPath    string
}

func (c Config) withDefaults() Config {
	if c.LivenessPath == "" {
		c.LivenessPath = "/health/live"
	}
	if c.ReadinessPath == "" {
		c.ReadinessPath = "/health/ready"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	return c
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewServer creates a new HTTP server. The metrics listener is skipped when
// metrics are disabled.
func NewServer(
	cfg Config,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	cfg = cfg.withDefaults()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc(cfg.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc(cfg.ReadinessPath, ReadinessHandler(healthChecker, logger))

	s := &Server{
		healthServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
			Handler:      healthMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}

	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		s.metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s
}

func (s *Server) servers() []*http.Server {
	if s.metricsServer == nil {
		return []*http.Server{s.healthServer}
	}
	return []*http.Server{s.healthServer, s.metricsServer}
}

// Start starts the HTTP listeners in the background.
func (s *Server) Start() error {
	for _, srv := range s.servers() {
		go func(srv *http.Server) {
			s.logger.Info("starting http server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server failed", "addr", srv.Addr, "error", err)
			}
		}(srv)
	}
	return nil
}

// Shutdown gracefully shuts down all listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := s.servers()
	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			errChan <- srv.Shutdown(ctx)
		}(srv)
	}

	var err error
	for range servers {
		err = multierr.Append(err, <-errChan)
	}
	if err != nil {
		s.logger.Error("error shutting down servers", "error", err)
	}
	return err
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewServer_Routes(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()

	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}
	server := NewServer(Config{
		HealthPort:     8080,
		MetricsPort:    9090,
		MetricsEnabled: true,
		LivenessPath:   "/livez",
		MetricsPath:    "/prom",
	}, checker, registry, testLogger())

	tests := []struct {
		name     string
		handler  http.Handler
		path     string
		wantCode int
	}{
		{"custom liveness", server.healthServer.Handler, "/livez", http.StatusOK},
		{"default readiness", server.healthServer.Handler, "/health/ready", http.StatusOK},
		{"old liveness path", server.healthServer.Handler, "/health/live", http.StatusNotFound},
		{"custom metrics", server.metricsServer.Handler, "/prom", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantCode {
				t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
		})
	}

	w := httptest.NewRecorder()
	server.metricsServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/prom", nil))
	if !strings.Contains(w.Body.String(), "test_metric_total 1") {
		t.Errorf("metrics body missing counter: %s", w.Body.String())
	}

	if server.healthServer.Addr != ":8080" || server.metricsServer.Addr != ":9090" {
		t.Errorf("addrs = %s, %s", server.healthServer.Addr, server.metricsServer.Addr)
	}
}

func TestNewServer_MetricsDisabled(t *testing.T) {
	server := NewServer(Config{HealthPort: 8080}, NewChecker(), prometheus.NewRegistry(), testLogger())

	if server.metricsServer != nil {
		t.Error("metrics server should not be created when disabled")
	}
	if len(server.servers()) != 1 {
		t.Errorf("servers() = %d, want 1", len(server.servers()))
	}
}

func TestServer_StartShutdown(t *testing.T) {
	checker := NewChecker()
	server := NewServer(Config{
		HealthPort:     58081,
		MetricsPort:    59091,
		MetricsEnabled: true,
	}, checker, prometheus.NewRegistry(), testLogger())

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://localhost:58081/health/live")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health server not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("liveness status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if _, err := http.Get("http://localhost:58081/health/live"); err == nil {
		t.Error("expected error connecting to stopped health server")
	}
}

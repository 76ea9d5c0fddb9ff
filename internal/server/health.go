// Package server implements health check handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Checker tracks the readiness of named components. The process is ready
// once every registered component has reported ready, and alive until a
// component reports a fatal failure.
type Checker struct {
	mu         sync.RWMutex
	components map[string]componentState
	fatal      error
}

type componentState struct {
	ready  bool
	detail string
}

// NewChecker creates a checker expecting the given components.
func NewChecker(components ...string) *Checker {
	c := &Checker{components: make(map[string]componentState, len(components))}
	for _, name := range components {
		c.components[name] = componentState{detail: "starting"}
	}
	return c
}

// SetReady records the state of a component.
func (c *Checker) SetReady(component string, ready bool, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[component] = componentState{ready: ready, detail: detail}
}

// SetFatal marks the process as no longer alive.
func (c *Checker) SetFatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fatal = err
}

// Liveness reports false after a fatal failure.
func (c *Checker) Liveness() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal == nil
}

// Readiness reports whether every component is ready.
func (c *Checker) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.IsHealthy()
}

// IsHealthy reports liveness and readiness together.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fatal != nil {
		return false
	}
	for _, state := range c.components {
		if !state.ready {
			return false
		}
	}
	return true
}

// GetStatus returns a detail string per component.
func (c *Checker) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := make(map[string]string, len(c.components)+1)
	for name, state := range c.components {
		status[name] = state.detail
	}
	if c.fatal != nil {
		status["fatal"] = c.fatal.Error()
	}
	return status
}

// Components returns the registered component names in order.
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeResponse(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeResponse(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeResponse(w http.ResponseWriter, statusCode int, response HealthResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "status", response.Status, "error", err)
	}
}

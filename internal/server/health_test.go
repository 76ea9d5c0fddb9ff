package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

// mockHealthChecker implements HealthChecker for testing
type mockHealthChecker struct {
	liveness  bool
	readiness bool
	healthy   bool
	status    map[string]string
}

func (m *mockHealthChecker) Liveness() bool                     { return m.liveness }
func (m *mockHealthChecker) Readiness(ctx context.Context) bool { return m.readiness }
func (m *mockHealthChecker) IsHealthy() bool                    { return m.healthy }
func (m *mockHealthChecker) GetStatus() map[string]string       { return m.status }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name       string
		alive      bool
		wantCode   int
		wantStatus string
	}{
		{"alive", true, http.StatusOK, "alive"},
		{"not alive", false, http.StatusServiceUnavailable, "not alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := LivenessHandler(&mockHealthChecker{liveness: tt.alive}, testLogger())
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("content type = %q", got)
			}
			if response := decode(t, w); response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", response.Status, tt.wantStatus)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		wantCode   int
		wantStatus string
	}{
		{"ready", true, http.StatusOK, "ready"},
		{"not ready", false, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{
				readiness: tt.ready,
				status:    map[string]string{"consumer": "assigned", "storage": "available"},
			}
			handler := ReadinessHandler(checker, testLogger())
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			response := decode(t, w)
			if response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", response.Status, tt.wantStatus)
			}
			if len(response.Checks) != 2 {
				t.Errorf("len(checks) = %d, want 2", len(response.Checks))
			}
		})
	}
}

func TestChecker_Readiness(t *testing.T) {
	checker := NewChecker("consumer", "storage")
	ctx := context.Background()

	if checker.Readiness(ctx) {
		t.Fatal("checker should not be ready before components report")
	}
	if !checker.Liveness() {
		t.Fatal("checker should be alive at start")
	}

	checker.SetReady("storage", true, "available")
	if checker.Readiness(ctx) {
		t.Fatal("checker should wait for the consumer")
	}

	checker.SetReady("consumer", true, "assigned")
	if !checker.Readiness(ctx) || !checker.IsHealthy() {
		t.Fatal("checker should be ready once all components are")
	}

	status := checker.GetStatus()
	if status["consumer"] != "assigned" || status["storage"] != "available" {
		t.Errorf("GetStatus() = %v", status)
	}

	checker.SetReady("consumer", false, "rebalancing")
	if checker.Readiness(ctx) {
		t.Error("checker should not be ready while rebalancing")
	}
}

func TestChecker_CancelledContext(t *testing.T) {
	checker := NewChecker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if checker.Readiness(ctx) {
		t.Error("Readiness should be false for a cancelled request")
	}
}

func TestChecker_Fatal(t *testing.T) {
	checker := NewChecker("consumer")
	checker.SetReady("consumer", true, "assigned")
	checker.SetFatal(errors.New("consumer group closed"))

	if checker.Liveness() {
		t.Error("Liveness should be false after a fatal error")
	}
	if checker.IsHealthy() {
		t.Error("IsHealthy should be false after a fatal error")
	}
	if got := checker.GetStatus()["fatal"]; got != "consumer group closed" {
		t.Errorf("fatal status = %q", got)
	}
}

func TestChecker_Components(t *testing.T) {
	checker := NewChecker("storage", "consumer")
	checker.SetReady("dlq", true, "enabled")

	got := checker.Components()
	want := []string{"consumer", "dlq", "storage"}
	if len(got) != len(want) {
		t.Fatalf("Components() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Components()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// HealthChecker is anything that can report liveness of a dependency.
// Both pgxpool.Pool and the redis client satisfy it via Ping.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]HealthChecker
	ready  atomic.Bool
}

// NewHealthHandler builds a handler over named dependency checks, e.g.
// {"database": pool, "redis": client}. Nil checkers are skipped.
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]HealthChecker)}
	for name, c := range checks {
		if c != nil {
			h.checks[name] = c
		}
	}
	h.ready.Store(false)
	return h
}

func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	checks := make(map[string]string)
	allHealthy := true

	if !h.ready.Load() {
		checks["app"] = "not ready"
		allHealthy = false
	} else {
		checks["app"] = "ok"
	}

	for name, checker := range h.checks {
		if err := checker.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			allHealthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status: status,
		Checks: checks,
	})
}

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) Ping(ctx context.Context) error {
	return f.err
}

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	db := &fakeChecker{}
	h := NewHealthHandler(map[string]HealthChecker{"database": db, "skipped": nil})

	t.Run("not ready before SetReady", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	h.SetReady(true)

	t.Run("ready with healthy checks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}

		var resp ReadyResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if resp.Checks["database"] != "ok" {
			t.Errorf("database check = %q, want ok", resp.Checks["database"])
		}
		if _, ok := resp.Checks["skipped"]; ok {
			t.Error("nil checker should be skipped")
		}
	})

	t.Run("degraded on failing dependency", func(t *testing.T) {
		db.err = errors.New("connection refused")
		defer func() { db.err = nil }()

		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

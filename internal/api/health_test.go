package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		pg       pingFunc
		redis    pingFunc
		status   int
		overall  string
		redisDep string
	}{
		{"all up", up, up, http.StatusOK, "ok", "ok"},
		{"redis down", up, down, http.StatusOK, "degraded", "down"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error", "ok"},
		{"both down", down, down, http.StatusServiceUnavailable, "error", "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HealthHandler{pingPostgres: tt.pg, pingRedis: tt.redis, env: "test", version: "v0"}

			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			resp := decode[ReadinessResponse](t, rec)
			if resp.Status != tt.overall || resp.Dependencies["redis"] != tt.redisDep {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}
}

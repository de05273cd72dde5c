package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLive(t *testing.T) {
	h := New(nil).Add("db", CheckFunc(down))
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec).Status)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus int
		wantBody   Response
	}{
		{"no checks", nil, http.StatusOK, Response{Status: "ready"}},
		{"all pass", map[string]CheckFunc{"db": ok, "redis": ok}, http.StatusOK, Response{Status: "ready", Checks: map[string]string{"db": "ok", "redis": "ok"}}},
		{"one fails", map[string]CheckFunc{"db": ok, "redis": down}, http.StatusServiceUnavailable, Response{Status: "unavailable", Checks: map[string]string{"db": "ok", "redis": "unavailable"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			for name, c := range tt.checks {
				h.Add(name, c)
			}
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, decode(t, rec))
		})
	}
}

func TestCheck_UpdatesGRPCStatus(t *testing.T) {
	healthy := true
	h := New(nil).Add("redis", CheckFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}))
	hs := health.NewServer()
	h.AttachGRPC(hs)
	ctx := context.Background()

	h.Check(ctx)
	resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	healthy = false
	h.Check(ctx)
	resp, err = hs.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestAdd_IgnoresNil(t *testing.T) {
	h := New(nil).Add("db", nil).Add("redis", CheckFunc(ok))
	assert.Equal(t, []string{"redis"}, h.Names())
}

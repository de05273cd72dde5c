package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "security-gateway/backend/internal/audit/domain"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/monitor"
	"security-gateway/backend/internal/threat"
)

type fakeLister struct {
	events []event.Event
	err    error
	last   auditdomain.EventQuery
}

func (f *fakeLister) ListEvents(ctx context.Context, q auditdomain.EventQuery) ([]event.Event, error) {
	f.last = q
	return f.events, f.err
}

type fakeReputations map[string]threat.Reputation

func (f fakeReputations) Reputation(ip string) (threat.Reputation, bool) {
	r, ok := f[ip]
	return r, ok
}

func newMonitor() *monitor.Monitor {
	m := monitor.New(monitor.Options{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	m.Record(ctx, event.New(event.TypeAttackDetected, event.SeverityCritical, "203.0.113.5"))
	m.Record(ctx, event.New(event.TypeRateLimitExceeded, event.SeverityMedium, "203.0.113.5"))
	m.Record(ctx, event.New(event.TypeLoginFailed, event.SeverityMedium, "198.51.100.2"))
	return m
}

func router(h *SecurityHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/security/report", h.Report).Methods(http.MethodGet)
	r.HandleFunc("/api/security/ip/{ip}", h.IP).Methods(http.MethodGet)
	r.HandleFunc("/api/security/events", h.Events).Methods(http.MethodGet)
	return r
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestReport(t *testing.T) {
	r := router(NewSecurityHandler(newMonitor(), nil, nil, nil))
	rec := get(t, r, "/api/security/report")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep monitor.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, int64(1), rep.Counters.Attacks)
	require.NotEmpty(t, rep.TopIPs)
	assert.Equal(t, "203.0.113.5", rep.TopIPs[0].IP)
	assert.Len(t, rep.RecentEvents, 3)
}

func TestIP(t *testing.T) {
	reps := fakeReputations{"203.0.113.5": {IP: "203.0.113.5", Score: 85}}
	r := router(NewSecurityHandler(newMonitor(), nil, reps, nil))

	rec := get(t, r, "/api/security/ip/203.0.113.5")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp IPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, monitor.TierCritical, resp.Tier)
	require.NotNil(t, resp.Reputation)
	assert.Equal(t, 85.0, resp.Reputation.Score)

	rec = get(t, r, "/api/security/ip/not-an-ip")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_FromBuffer(t *testing.T) {
	r := router(NewSecurityHandler(newMonitor(), nil, nil, nil))

	rec := get(t, r, "/api/security/events?severity=high")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "buffer", resp.Source)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, event.TypeAttackDetected, resp.Events[0].Type)

	rec = get(t, r, "/api/security/events?ip=198.51.100.2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = get(t, r, "/api/security/events?ip=10.0.0.99")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Events)
}

func TestEvents_FromStore(t *testing.T) {
	store := &fakeLister{events: []event.Event{event.New(event.TypeCSRFViolation, event.SeverityMedium, "203.0.113.8")}}
	r := router(NewSecurityHandler(newMonitor(), store, nil, nil))

	rec := get(t, r, "/api/security/events?type=CSRF_VIOLATION&limit=5000&since=2026-03-10T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store", resp.Source)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, event.TypeCSRFViolation, store.last.Type)
	assert.Equal(t, auditdomain.MaxLimit, store.last.Limit)
	assert.False(t, store.last.Since.IsZero())

	store.err = errors.New("db down")
	rec = get(t, r, "/api/security/events")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "buffer", resp.Source)
}

func TestEvents_RejectsBadParams(t *testing.T) {
	r := router(NewSecurityHandler(newMonitor(), nil, nil, nil))
	for _, q := range []string{"severity=urgent", "ip=999.1.1.1", "since=yesterday", "limit=0", "limit=abc"} {
		rec := get(t, r, "/api/security/events?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

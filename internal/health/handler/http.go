// Package handler serves liveness and readiness over HTTP and mirrors readiness into the
// standard gRPC health service.
package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/logging"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is a dependency probed for readiness (e.g. *sql.DB, kvstore.Store).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CheckFunc adapts a function to a readiness probe.
type CheckFunc func(ctx context.Context) error

// PingContext calls f.
func (f CheckFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Response is the JSON body of both endpoints.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler runs readiness probes. The zero value is not usable; use New.
type Handler struct {
	checks  map[string]Pinger
	timeout time.Duration
	grpc    *health.Server
	logger  *zap.Logger
}

// New returns a Handler with no probes; readiness then always succeeds.
func New(logger *zap.Logger) *Handler {
	return &Handler{
		checks:  make(map[string]Pinger),
		timeout: defaultCheckTimeout,
		logger:  logging.WithComponent(logger, "health"),
	}
}

// Add registers a named probe. Nil probes are ignored.
func (h *Handler) Add(name string, p Pinger) *Handler {
	if p != nil {
		h.checks[name] = p
	}
	return h
}

// AttachGRPC makes every readiness evaluation update hs's overall serving status.
func (h *Handler) AttachGRPC(hs *health.Server) {
	h.grpc = hs
}

// Check runs all probes concurrently and returns per-probe results and overall readiness.
func (h *Handler) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		ready   = true
	)
	for name, p := range h.checks {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			err := p.PingContext(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ready = false
				results[name] = "unavailable"
				h.logger.Warn("readiness probe failed", zap.String("check", name), zap.Error(err))
				return
			}
			results[name] = "ok"
		}(name, p)
	}
	wg.Wait()

	if h.grpc != nil {
		st := healthpb.HealthCheckResponse_SERVING
		if !ready {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.grpc.SetServingStatus("", st)
	}
	return results, ready
}

// Names returns the registered probe names, sorted.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Live answers GET /health. It never touches dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, Response{Status: "ok"})
}

// Ready answers GET /ready with 200 when every probe passes and 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	results, ready := h.Check(r.Context())
	if !ready {
		apierror.WriteJSON(w, http.StatusServiceUnavailable, Response{Status: "unavailable", Checks: results})
		return
	}
	apierror.WriteJSON(w, http.StatusOK, Response{Status: "ready", Checks: results})
}

// Watch re-evaluates readiness every interval until ctx is done, keeping the gRPC status fresh.
func (h *Handler) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	h.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

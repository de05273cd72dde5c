// Package server assembles the HTTP router and the internal gRPC server from injected
// components. It owns no state of its own.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/csrf"
	"security-gateway/backend/internal/event"
	healthhandler "security-gateway/backend/internal/health/handler"
	identityhandler "security-gateway/backend/internal/identity/handler"
	"security-gateway/backend/internal/monitor"
	monitorhandler "security-gateway/backend/internal/monitor/handler"
	"security-gateway/backend/internal/platform/rbac"
	"security-gateway/backend/internal/policy/engine"
	"security-gateway/backend/internal/server/interceptors"
	"security-gateway/backend/internal/server/middleware"
	"security-gateway/backend/internal/threat"
)

// PermissionSecurityRead guards the security reporting endpoints.
const PermissionSecurityRead = "security:read"

// Deps holds the components the HTTP surface is built from. Nil optional fields disable the
// corresponding routes or middleware.
type Deps struct {
	Logger     *zap.Logger
	Production bool
	// TrustedProxies may set the client address through forwarding headers. Nil trusts none.
	TrustedProxies *interceptors.TrustedProxies

	// Monitor receives request observations and access-denied events. Required.
	Monitor *monitor.Monitor
	// Threat is the request-level defense chain for /api routes. If nil, no threat checks run.
	Threat *threat.Detector
	// CSRF enforces tokens on state-changing /api requests. If nil, CSRF is not enforced.
	CSRF *csrf.Middleware
	// CSRFTokens serves GET /api/csrf-token. If nil, the route is not registered.
	CSRFTokens http.Handler
	// Authenticator verifies bearer tokens for protected routes. Required.
	Authenticator *middleware.Authenticator
	// Authorizer decides permission checks. Required.
	Authorizer engine.Authorizer

	Auth     *identityhandler.AuthHandler
	Security *monitorhandler.SecurityHandler
	Health   *healthhandler.Handler

	// Transformers post-process JSON responses of /api routes.
	Transformers []middleware.ResponseTransformer
}

// NewRouter builds the HTTP handler. Middleware order, outermost first: recovery, security
// headers, client IP, request logging; then for /api: threat detection, CSRF, response
// transformers.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	if d.Health != nil {
		r.HandleFunc("/health", d.Health.Live).Methods(http.MethodGet)
		r.HandleFunc("/ready", d.Health.Ready).Methods(http.MethodGet)
	}
	if d.Monitor != nil {
		r.Handle("/metrics", d.Monitor.Metrics().Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = r.NotFoundHandler
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	if d.Threat != nil {
		api.Use(d.Threat.Middleware(middleware.RequestIP))
	}
	if d.CSRF != nil {
		api.Use(d.CSRF.Handler)
	}
	api.Use(middleware.TransformResponses(d.Transformers...))

	if d.CSRFTokens != nil {
		api.Handle("/csrf-token", d.Authenticator.Optional(d.CSRFTokens)).Methods(http.MethodGet)
	}

	if d.Auth != nil {
		api.HandleFunc("/auth/refresh", d.Auth.Refresh).Methods(http.MethodPost)
		api.Handle("/auth/logout", d.Authenticator.Require(http.HandlerFunc(d.Auth.Logout))).Methods(http.MethodPost)
		api.Handle("/auth/revoke-all", d.Authenticator.Require(http.HandlerFunc(d.Auth.RevokeAll))).Methods(http.MethodPost)
	}

	if d.Security != nil {
		sec := api.PathPrefix("/security").Subrouter()
		sec.Use(d.Authenticator.Require)
		sec.Use(rbac.Require(d.Authorizer, PermissionSecurityRead, recorder(d.Monitor)))
		sec.HandleFunc("/report", d.Security.Report).Methods(http.MethodGet)
		sec.HandleFunc("/ip/{ip}", d.Security.IP).Methods(http.MethodGet)
		sec.HandleFunc("/events", d.Security.Events).Methods(http.MethodGet)
	}

	var observer interceptors.RequestObserver
	if d.Monitor != nil {
		observer = d.Monitor
	}
	var h http.Handler = middleware.RequestLogger(d.Logger, observer)(r)
	h = middleware.WithClientIP(d.TrustedProxies)(h)
	h = middleware.SecurityHeaders(d.Production)(h)
	h = middleware.Recover(d.Logger)(h)
	return h
}

func recorder(m *monitor.Monitor) event.Recorder {
	if m == nil {
		return nil
	}
	return m
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, http.StatusNotFound, apierror.Body{Message: "Route not found", Code: "NOT_FOUND"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, http.StatusMethodNotAllowed, apierror.Body{Message: "Method not allowed", Code: "METHOD_NOT_ALLOWED"})
}

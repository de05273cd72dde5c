package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/server/interceptors"
)

// Health check methods of the standard gRPC health service.
const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthListMethod  = "/grpc.health.v1.Health/List"
)

// GRPCDeps holds the components of the internal gRPC listener.
type GRPCDeps struct {
	// Verifier checks bearer tokens. Required.
	Verifier interceptors.AccessVerifier
	// Admitter applies rate limiting and reputation. If nil, no threat checks run.
	Admitter interceptors.Admitter
	// Events receives auth failures and access denials. May be nil.
	Events event.Recorder
	// Observer receives per-call outcomes. May be nil.
	Observer interceptors.RequestObserver
	// TrustedProxies may set the client address through forwarding metadata. Nil trusts none.
	TrustedProxies *interceptors.TrustedProxies
	// Health is the standard health service; NewGRPCServer creates one when nil.
	Health *health.Server
	Logger *zap.Logger
}

// publicMethods do not require a bearer token.
var publicMethods = map[string]bool{
	healthCheckMethod: true,
	healthListMethod:  true,
}

// NewGRPCServer returns a server with the interceptor chain (client IP, threat, auth, audit,
// telemetry) and OpenTelemetry stats handler installed, and every service registered.
func NewGRPCServer(d GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{interceptors.ClientIPUnary(d.TrustedProxies)}
	if d.Admitter != nil {
		chain = append(chain, interceptors.ThreatUnary(d.Admitter, publicMethods))
	}
	chain = append(chain,
		interceptors.AuthUnary(d.Verifier, publicMethods, d.Events, d.Logger),
		interceptors.AuditUnary(d.Events, publicMethods),
		interceptors.TelemetryUnary(d.Observer, publicMethods),
	)
	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	)
	s := grpc.NewServer(opts...)
	RegisterServices(s, d)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
//   - grpc.health.v1.Health → google.golang.org/grpc/health, status driven by internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, d GRPCDeps) *health.Server {
	hs := d.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

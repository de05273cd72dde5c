package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RequestObserver receives one observation per served call.
type RequestObserver interface {
	ObserveRequest(method string, status int, d time.Duration)
}

// TelemetryUnary returns a unary server interceptor that reports each RPC's outcome and latency
// to observer. If observer is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not report (e.g. the health Check).
func TelemetryUnary(observer RequestObserver, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if observer == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		observer.ObserveRequest("GRPC", HTTPStatus(status.Code(err)), time.Since(start))
		return resp, err
	}
}

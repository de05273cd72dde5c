package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// Admitter decides whether a call from ip may proceed. Returned errors are *apierror.Error.
type Admitter interface {
	Admit(ctx context.Context, ip, target string) error
}

// ThreatUnary rejects calls from rate-limited or blocked addresses before any other work.
// It expects ClientIPUnary earlier in the chain.
func ThreatUnary(admitter Admitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		if err := admitter.Admit(ctx, GetClientIP(ctx), info.FullMethod); err != nil {
			return nil, StatusError(err)
		}
		return handler(ctx, req)
	}
}

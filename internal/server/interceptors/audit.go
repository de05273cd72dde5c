package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"security-gateway/backend/internal/audit"
	"security-gateway/backend/internal/event"
)

// AuditUnary returns a unary server interceptor that records an ACCESS_DENIED event when an
// authenticated RPC ends in PermissionDenied. skipMethods is the set of full method names to
// not audit. Recording never changes the RPC outcome.
func AuditUnary(events event.Recorder, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	events = event.OrNop(events)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil || skipMethods[info.FullMethod] || status.Code(err) != codes.PermissionDenied {
			return resp, err
		}
		userID, ok := GetUserID(ctx)
		if !ok {
			return resp, err
		}
		ar := audit.ParseFullMethod(info.FullMethod)
		events.Record(ctx, event.New(event.TypeAccessDenied, event.SeverityMedium, GetClientIP(ctx)).
			WithUser(userID).
			With("action", ar.Permission()).
			With("method", info.FullMethod))
		return resp, err
	}
}

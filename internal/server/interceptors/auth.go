package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/security"
)

const bearerPrefix = "bearer "

// AccessVerifier verifies an access token against signature, expiry and the revocation list.
type AccessVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*security.Claims, error)
}

// AuthUnary returns a unary server interceptor that verifies the Bearer (access) token from
// gRPC metadata and stores the claims with WithIdentity.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. the gRPC health Check). A token presented to a public method is still verified, and
// an invalid one is ignored. Every other failure, including an unavailable revocation store,
// is Unauthenticated with the generic message.
func AuthUnary(verifier AccessVerifier, publicMethods map[string]bool, events event.Recorder, logger *zap.Logger) grpc.UnaryServerInterceptor {
	events = event.OrNop(events)
	logger = logging.WithComponent(logger, "grpc_auth")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, apierror.MsgInvalidToken)
		}

		claims, err := verifier.VerifyAccessToken(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			ip := GetClientIP(ctx)
			logger.Debug("token rejected", zap.String("method", info.FullMethod), zap.String("ip", ip), zap.Error(err))
			events.Record(ctx, event.New(event.TypeAuthFailure, event.SeverityMedium, ip).
				With("method", info.FullMethod).
				With("reason", "invalid_token"))
			return nil, status.Error(codes.Unauthenticated, apierror.MsgInvalidToken)
		}

		return handler(WithIdentity(ctx, claims, token), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

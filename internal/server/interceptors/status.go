package interceptors

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"security-gateway/backend/internal/apierror"
)

// StatusError converts err to a gRPC status carrying only the client-safe message.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	e := apierror.As(err)
	return status.Error(codeForKind(e.Kind), e.Message)
}

func codeForKind(k apierror.Kind) codes.Code {
	switch k {
	case apierror.KindValidation, apierror.KindThreat, apierror.KindIntegrity:
		return codes.InvalidArgument
	case apierror.KindRateLimited:
		return codes.ResourceExhausted
	case apierror.KindAuth:
		return codes.Unauthenticated
	case apierror.KindForbidden:
		return codes.PermissionDenied
	case apierror.KindTooLarge:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// HTTPStatus maps a gRPC code to the equivalent HTTP status for request metrics.
func HTTPStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

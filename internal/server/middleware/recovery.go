package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/logging"
)

// Recover turns a handler panic into a logged 500 with the generic body.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.WithComponent(logger, "recovery")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logger.Error("panic in handler",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rv),
					zap.Stack("stack"))
				apierror.Write(w, apierror.Internal(fmt.Errorf("panic: %v", rv)))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

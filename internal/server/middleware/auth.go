package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/server/interceptors"
)

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Authenticator verifies bearer tokens and stores the verified identity in the request context.
type Authenticator struct {
	verifier interceptors.AccessVerifier
	events   event.Recorder
	logger   *zap.Logger
}

// NewAuthenticator returns an Authenticator. events and logger may be nil.
func NewAuthenticator(verifier interceptors.AccessVerifier, events event.Recorder, logger *zap.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, events: event.OrNop(events), logger: logging.WithComponent(logger, "http_auth")}
}

// Require rejects requests without a valid access token with 401. Any verification failure,
// including an unavailable revocation store, yields the same generic body.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			apierror.Write(w, apierror.New(apierror.KindAuth, apierror.CodeMissingToken, apierror.MsgInvalidToken))
			return
		}
		ctx := r.Context()
		claims, err := a.verifier.VerifyAccessToken(ctx, token)
		if err != nil {
			ip := RequestIP(r)
			a.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.String("ip", ip), zap.Error(err))
			a.events.Record(ctx, event.New(event.TypeAuthFailure, event.SeverityMedium, ip).
				With("path", r.URL.Path).
				With("method", r.Method))
			apierror.Write(w, apierror.Auth(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(interceptors.WithIdentity(ctx, claims, token)))
	})
}

// Optional attaches the identity when a valid token is present and otherwise passes through.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := BearerToken(r); token != "" {
			if claims, err := a.verifier.VerifyAccessToken(r.Context(), token); err == nil {
				r = r.WithContext(interceptors.WithIdentity(r.Context(), claims, token))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Package middleware holds the HTTP middleware chain of the gateway.
package middleware

import (
	"net/http"

	"security-gateway/backend/internal/server/interceptors"
)

// ClientIP resolves the caller address of r. X-Forwarded-For and X-Real-IP count only when the
// connection comes from one of proxies; otherwise the remote address is used. Returns "unknown"
// when nothing parses.
func ClientIP(r *http.Request, proxies *interceptors.TrustedProxies) string {
	ip := proxies.Resolve(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
	if ip == "" {
		return "unknown"
	}
	return ip
}

// RequestIP returns the address stored by WithClientIP, falling back to the remote address.
func RequestIP(r *http.Request) string {
	if ip := interceptors.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r, nil)
}

// WithClientIP stores the resolved address in the request context for downstream components.
func WithClientIP(proxies *interceptors.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := interceptors.WithClientIP(r.Context(), ClientIP(r, proxies))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package interceptors

import (
	"context"

	"security-gateway/backend/internal/security"
)

type contextKey struct{ name string }

var (
	claimsKey   = contextKey{"claims"}
	tokenKey    = contextKey{"bearer_token"}
	clientIPKey = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the verified claims and the raw bearer token.
// Handlers read them via GetClaims, GetUserID, GetTenantID, GetSessionID, GetBearerToken.
func WithIdentity(ctx context.Context, claims *security.Claims, token string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	ctx = context.WithValue(ctx, tokenKey, token)
	return ctx
}

// GetClaims returns the verified claims and true if set.
func GetClaims(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*security.Claims)
	return c, ok && c != nil
}

// GetUserID returns the subject from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	c, ok := GetClaims(ctx)
	if !ok || c.RegisteredClaims.Subject == "" {
		return "", false
	}
	return c.RegisteredClaims.Subject, true
}

// GetTenantID returns the tenant id from context and true if set; otherwise "", false.
func GetTenantID(ctx context.Context) (string, bool) {
	c, ok := GetClaims(ctx)
	if !ok || c.TenantID == "" {
		return "", false
	}
	return c.TenantID, true
}

// GetSessionID returns the session id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	c, ok := GetClaims(ctx)
	if !ok || c.SessionID == "" {
		return "", false
	}
	return c.SessionID, true
}

// GetBearerToken returns the raw access token the request was authenticated with.
func GetBearerToken(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	return v, ok && v != ""
}

// WithClientIP returns a context carrying the resolved client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetClientIP returns the client IP stored by WithClientIP, or "" when unset.
func GetClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

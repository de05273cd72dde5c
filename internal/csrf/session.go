package csrf

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"security-gateway/backend/internal/security"
	"security-gateway/backend/internal/server/interceptors"
)

// AccessTokenParser verifies a bearer token's signature and claims.
type AccessTokenParser interface {
	Parse(token string, typ security.TokenType) (*security.Claims, error)
}

// SessionResolver derives the CSRF session identity of a request.
type SessionResolver struct {
	tokens   AccessTokenParser
	clientIP func(*http.Request) string
}

// NewSessionResolver returns a resolver. tokens may be nil to skip bearer tokens.
func NewSessionResolver(tokens AccessTokenParser, clientIP func(*http.Request) string) *SessionResolver {
	return &SessionResolver{tokens: tokens, clientIP: clientIP}
}

// SessionID prefers the identity already verified by the authenticator, then the session (else
// subject) of a bearer token with a valid signature, then a hash of the API key, then a hash of
// client IP and User-Agent.
func (s *SessionResolver) SessionID(r *http.Request) string {
	if c, ok := interceptors.GetClaims(r.Context()); ok {
		if id := claimsSession(c); id != "" {
			return id
		}
	}
	if s.tokens != nil {
		if raw := bearerToken(r); raw != "" {
			if c, err := s.tokens.Parse(raw, security.TokenTypeAccess); err == nil {
				if id := claimsSession(c); id != "" {
					return id
				}
			}
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "apikey:" + sha256Hex(key)
	}
	ip := ""
	if s.clientIP != nil {
		ip = s.clientIP(r)
	}
	return "anon:" + sha256Hex(ip+"|"+r.UserAgent())
}

func claimsSession(c *security.Claims) string {
	if c.SessionID != "" {
		return "sid:" + c.SessionID
	}
	if c.RegisteredClaims.Subject != "" {
		return "sub:" + c.RegisteredClaims.Subject
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

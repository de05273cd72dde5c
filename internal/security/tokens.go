package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, mis-signed, expired or of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenType discriminates access and refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Subject is the identity embedded in every issued token.
type Subject struct {
	UserID      string
	TenantID    string
	Role        string
	Permissions []string
	SessionID   string
}

// Claims holds JWT claims for both token types; Type tells them apart.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string    `json:"tenant_id,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	SessionID   string    `json:"sid,omitempty"`
	Type        TokenType `json:"typ"`
}

// Subject returns the identity carried by the claims.
func (c *Claims) Subject() Subject {
	return Subject{
		UserID:      c.RegisteredClaims.Subject,
		TenantID:    c.TenantID,
		Role:        c.Role,
		Permissions: c.Permissions,
		SessionID:   c.SessionID,
	}
}

// ExpiresAtTime returns exp or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedToken is a freshly signed token.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and parses HS256 JWTs. Each token type has its own secret, so a
// refresh token never verifies against the access key.
type TokenProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenProvider returns a TokenProvider. issuer and audience are set on claims and validated on parse.
func NewTokenProvider(accessSecret, refreshSecret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock replaces the provider clock. Used by tests to move time forward.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for the subject.
func (p *TokenProvider) IssueAccess(sub Subject) (IssuedToken, error) {
	return p.issue(sub, TokenTypeAccess, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh JWT. Its jti identifies it for rotation.
func (p *TokenProvider) IssueRefresh(sub Subject) (IssuedToken, error) {
	return p.issue(sub, TokenTypeRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(sub Subject, typ TokenType, ttl time.Duration) (IssuedToken, error) {
	if sub.UserID == "" {
		return IssuedToken{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TenantID:    sub.TenantID,
		Role:        sub.Role,
		Permissions: sub.Permissions,
		SessionID:   sub.SessionID,
		Type:        typ,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret(typ))
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) secret(typ TokenType) []byte {
	if typ == TokenTypeRefresh {
		return p.refreshSecret
	}
	return p.accessSecret
}

// Parse validates signature, exp, iss and aud against the type-specific secret and then
// checks the typ claim. Every failure is reported as ErrInvalidToken.
func (p *TokenProvider) Parse(tokenString string, typ TokenType) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret(typ), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverified reads claims without checking the signature. Only for lifetime lookups on
// tokens already being revoked and for best-effort session derivation.
func DecodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

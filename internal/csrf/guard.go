// Package csrf issues and verifies per-session CSRF tokens for state-changing requests.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/kvstore"
	"security-gateway/backend/internal/logging"
)

var (
	// ErrInvalidToken covers unknown, expired, malformed and cross-session tokens.
	ErrInvalidToken = errors.New("csrf: invalid token")
	// ErrStoreUnavailable is returned when the token store cannot be read; callers reject the request.
	ErrStoreUnavailable = errors.New("csrf: token store unavailable")
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = time.Hour
	nonceBytes = 32
	keyPrefix  = "csrf:"
)

// record is what the store holds per issued token.
type record struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Guard is the CSRFGuard. A session may hold several live tokens at once.
type Guard struct {
	store     kvstore.Store
	secret    []byte
	ttl       time.Duration
	singleUse bool
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithSingleUse consumes tokens on successful verification.
func WithSingleUse() Option {
	return func(g *Guard) { g.singleUse = true }
}

// WithStoreTimeout bounds each store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// WithClock replaces the clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard returns a Guard storing token hashes in store, keyed by HMAC-SHA256(secret, nonce).
func NewGuard(store kvstore.Store, secret []byte, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:   store,
		secret:  secret,
		ttl:     DefaultTTL,
		timeout: 500 * time.Millisecond,
		logger:  logging.WithComponent(logger, "csrf"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) hash(token string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateToken issues a token bound to sessionID. The token is returned even when the store
// write fails; the error is returned alongside it for logging.
func (g *Guard) GenerateToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: empty session id")
	}
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("csrf: generate nonce: %w", err)
	}
	token := hex.EncodeToString(nonce)
	now := g.now().UTC()
	payload, err := json.Marshal(record{SessionID: sessionID, CreatedAt: now, ExpiresAt: now.Add(g.ttl)})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.store.Set(ctx, keyPrefix+g.hash(token), string(payload), g.ttl); err != nil {
		return token, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// VerifyToken checks that token was issued to sessionID and has not expired.
func (g *Guard) VerifyToken(ctx context.Context, sessionID, token string) error {
	if sessionID == "" || len(token) != nonceBytes*2 {
		return ErrInvalidToken
	}
	if _, err := hex.DecodeString(token); err != nil {
		return ErrInvalidToken
	}
	key := keyPrefix + g.hash(token)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrInvalidToken
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		g.logger.Warn("undecodable csrf record", zap.Error(err))
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(rec.SessionID), []byte(sessionID)) != 1 {
		return ErrInvalidToken
	}
	if !g.now().Before(rec.ExpiresAt) {
		return ErrInvalidToken
	}
	if g.singleUse {
		if err := g.store.Delete(ctx, key); err != nil {
			g.logger.Warn("consume csrf token", zap.Error(err))
		}
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/identity/domain"
	"security-gateway/backend/internal/identity/repository"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/security"
	"security-gateway/backend/internal/server/interceptors"
)

// Sentinel errors for the token lifecycle; handlers map them to apierror kinds.
var (
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrStoreUnavailable = errors.New("token store unavailable")
	ErrRefreshThrottled = errors.New("refresh throttled")
)

// ThrottledError is returned by Refresh when the subject refreshed within the minimum interval.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("refresh throttled, retry after %s", e.RetryAfter)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrRefreshThrottled }

// TokenLifecycleManager issues, verifies, rotates and revokes access and refresh tokens.
// A token moves ISSUED -> ACTIVE (verified) -> TERMINAL (revoked or expired) and never back.
// Blacklist errors fail closed.
type TokenLifecycleManager struct {
	tokens             *security.TokenProvider
	blacklist          repository.Blacklist
	events             event.Recorder
	logger             *zap.Logger
	minRefreshInterval time.Duration

	mu        sync.Mutex
	rotations map[string]domain.RotationRecord
	now       func() time.Time
}

// NewTokenLifecycleManager returns a manager. events and logger may be nil.
func NewTokenLifecycleManager(tokens *security.TokenProvider, blacklist repository.Blacklist, minRefreshInterval time.Duration, events event.Recorder, logger *zap.Logger) *TokenLifecycleManager {
	return &TokenLifecycleManager{
		tokens:             tokens,
		blacklist:          blacklist,
		events:             event.OrNop(events),
		logger:             logging.WithComponent(logger, "token_lifecycle"),
		minRefreshInterval: minRefreshInterval,
		rotations:          make(map[string]domain.RotationRecord),
		now:                time.Now,
	}
}

// WithClock replaces the manager clock. Used by tests.
func (m *TokenLifecycleManager) WithClock(now func() time.Time) *TokenLifecycleManager {
	m.now = now
	return m
}

// GenerateAccessToken issues an access token and records it for bulk revocation.
func (m *TokenLifecycleManager) GenerateAccessToken(ctx context.Context, sub security.Subject) (security.IssuedToken, error) {
	tok, err := m.tokens.IssueAccess(sub)
	if err != nil {
		return security.IssuedToken{}, err
	}
	if err := m.track(ctx, sub.UserID, tok); err != nil {
		return security.IssuedToken{}, err
	}
	return tok, nil
}

// GenerateRefreshToken issues a refresh token (with jti) and records it for bulk revocation.
func (m *TokenLifecycleManager) GenerateRefreshToken(ctx context.Context, sub security.Subject) (security.IssuedToken, error) {
	tok, err := m.tokens.IssueRefresh(sub)
	if err != nil {
		return security.IssuedToken{}, err
	}
	if err := m.track(ctx, sub.UserID, tok); err != nil {
		return security.IssuedToken{}, err
	}
	return tok, nil
}

// IssuePair issues a fresh access/refresh pair for sub.
func (m *TokenLifecycleManager) IssuePair(ctx context.Context, sub security.Subject) (*domain.TokenPair, error) {
	access, err := m.GenerateAccessToken(ctx, sub)
	if err != nil {
		return nil, err
	}
	refresh, err := m.GenerateRefreshToken(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (m *TokenLifecycleManager) track(ctx context.Context, userID string, tok security.IssuedToken) error {
	if err := m.blacklist.Track(ctx, userID, security.HashToken(tok.Token), tok.ExpiresAt); err != nil {
		m.logger.Error("track issued token", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// VerifyAccessToken verifies an access token.
func (m *TokenLifecycleManager) VerifyAccessToken(ctx context.Context, token string) (*security.Claims, error) {
	return m.verify(ctx, token, security.TokenTypeAccess)
}

// VerifyRefreshToken verifies a refresh token.
func (m *TokenLifecycleManager) VerifyRefreshToken(ctx context.Context, token string) (*security.Claims, error) {
	return m.verify(ctx, token, security.TokenTypeRefresh)
}

// verify checks, in order: blacklist, signature and claims, type, expiry.
func (m *TokenLifecycleManager) verify(ctx context.Context, token string, typ security.TokenType) (*security.Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	entry, err := m.blacklist.Lookup(ctx, security.HashToken(token))
	if err != nil {
		m.logger.Error("blacklist lookup failed; rejecting token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if entry != nil {
		return nil, ErrTokenRevoked
	}
	claims, err := m.tokens.Parse(token, typ)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ {
		return nil, ErrInvalidToken
	}
	if exp := claims.ExpiresAtTime(); exp.IsZero() || !m.now().Before(exp) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RevokeToken blacklists token for the rest of its lifetime. Already expired tokens are a no-op.
func (m *TokenLifecycleManager) RevokeToken(ctx context.Context, token, reason string) error {
	claims, err := security.DecodeUnverified(token)
	if err != nil {
		return ErrInvalidToken
	}
	exp := claims.ExpiresAtTime()
	if exp.IsZero() || !exp.After(m.now()) {
		return nil
	}
	entry := domain.BlacklistEntry{
		TokenHash: security.HashToken(token),
		UserID:    claims.RegisteredClaims.Subject,
		ExpiresAt: exp,
		Reason:    reason,
	}
	if err := m.blacklist.Add(ctx, entry); err != nil {
		m.logger.Error("blacklist add failed", zap.String("user_id", entry.UserID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.events.Record(ctx, event.New(event.TypeTokenRevoked, event.SeverityLow, interceptors.GetClientIP(ctx)).
		WithUser(entry.UserID).
		With("reason", reason).
		With("token_type", string(claims.Type)))
	return nil
}

// RevokeAllUserTokens blacklists every live token issued to userID and returns how many were revoked.
func (m *TokenLifecycleManager) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidToken
	}
	tracked, err := m.blacklist.Tracked(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := m.now()
	revoked := 0
	for _, tt := range tracked {
		if !tt.ExpiresAt.After(now) {
			continue
		}
		entry := domain.BlacklistEntry{TokenHash: tt.TokenHash, UserID: userID, ExpiresAt: tt.ExpiresAt, Reason: domain.ReasonRevokeAll}
		if err := m.blacklist.Add(ctx, entry); err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		revoked++
	}
	if err := m.blacklist.Untrack(ctx, userID); err != nil {
		m.logger.Warn("untrack after revoke-all failed", zap.String("user_id", userID), zap.Error(err))
	}
	m.clearRotation(userID)
	m.events.Record(ctx, event.New(event.TypeAllTokensRevoked, event.SeverityMedium, interceptors.GetClientIP(ctx)).
		WithUser(userID).
		With("count", revoked))
	return revoked, nil
}

// Refresh rotates a refresh token: verify, throttle, revoke the presented token, issue a new pair.
func (m *TokenLifecycleManager) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := m.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	userID := claims.RegisteredClaims.Subject
	ip := interceptors.GetClientIP(ctx)

	if wait := m.throttle(userID); wait > 0 {
		m.events.Record(ctx, event.New(event.TypeRefreshThrottled, event.SeverityMedium, ip).
			WithUser(userID).
			With("retry_after_ms", wait.Milliseconds()))
		return nil, &ThrottledError{RetryAfter: wait}
	}

	if err := m.RevokeToken(ctx, refreshToken, domain.ReasonRotation); err != nil {
		return nil, err
	}

	pair, err := m.IssuePair(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rotations[userID] = domain.RotationRecord{UserID: userID, LastRefreshAt: m.now()}
	m.mu.Unlock()

	m.events.Record(ctx, event.New(event.TypeTokenRefreshed, event.SeverityLow, ip).WithUser(userID))
	return pair, nil
}

// throttle returns how long userID must wait before refreshing again; 0 when allowed.
func (m *TokenLifecycleManager) throttle(userID string) time.Duration {
	if m.minRefreshInterval <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rotations[userID]
	if !ok {
		return 0
	}
	elapsed := m.now().Sub(rec.LastRefreshAt)
	if elapsed >= m.minRefreshInterval {
		return 0
	}
	return m.minRefreshInterval - elapsed
}

// Logout revokes the current access token and, when given, a refresh token of the same subject,
// then clears the subject's rotation bookkeeping.
func (m *TokenLifecycleManager) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := m.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := m.RevokeToken(ctx, accessToken, domain.ReasonLogout); err != nil {
		return err
	}
	if refreshToken != "" {
		rc, err := m.tokens.Parse(refreshToken, security.TokenTypeRefresh)
		if err == nil && rc.RegisteredClaims.Subject == claims.RegisteredClaims.Subject {
			if err := m.RevokeToken(ctx, refreshToken, domain.ReasonLogout); err != nil {
				return err
			}
		}
	}
	m.clearRotation(claims.RegisteredClaims.Subject)
	return nil
}

func (m *TokenLifecycleManager) clearRotation(userID string) {
	m.mu.Lock()
	delete(m.rotations, userID)
	m.mu.Unlock()
}

// LastRefresh returns the subject's rotation record.
func (m *TokenLifecycleManager) LastRefresh(userID string) (domain.RotationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rotations[userID]
	return rec, ok
}

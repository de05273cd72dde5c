// Package event defines the structured security events every gateway component emits.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	TypeRateLimitExceeded  Type = "RATE_LIMIT_EXCEEDED"
	TypeRequestSlowed      Type = "REQUEST_SLOWED"
	TypeRequestTooLarge    Type = "REQUEST_TOO_LARGE"
	TypeIPBlocked          Type = "IP_BLOCKED"
	TypeSuspiciousActivity Type = "SUSPICIOUS_ACTIVITY"
	TypeAttackDetected     Type = "ATTACK_DETECTED"
	TypeInjectionDetected  Type = "INJECTION_DETECTED"
	TypeAuthFailure        Type = "AUTH_FAILURE"
	TypeLoginFailed        Type = "LOGIN_FAILED"
	TypeLoginSucceeded     Type = "LOGIN_SUCCESS"
	TypeBruteForceBlocked  Type = "BRUTE_FORCE_BLOCKED"
	TypeTokenRevoked       Type = "TOKEN_REVOKED"
	TypeAllTokensRevoked   Type = "ALL_TOKENS_REVOKED"
	TypeTokenRefreshed     Type = "TOKEN_REFRESHED"
	TypeRefreshThrottled   Type = "REFRESH_THROTTLED"
	TypeCSRFViolation      Type = "CSRF_VIOLATION"
	TypeQueryRejected      Type = "QUERY_REJECTED"
	TypeAccessDenied       Type = "ACCESS_DENIED"
)

// Severity orders events for scoring and alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns 0..3 for low..critical; unknown severities rank as low.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Event is one security-relevant occurrence.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	IP        string         `json:"ip,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// New returns an event with a fresh id and the current UTC time.
func New(typ Type, severity Severity, ip string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		IP:        ip,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the user id.
func (e Event) WithUser(userID string) Event {
	e.UserID = userID
	return e
}

// With adds a detail field.
func (e Event) With(key string, value any) Event {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}

// Recorder receives events. Implementations must not block the caller on slow sinks.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Event)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
var Nop Recorder = RecorderFunc(func(context.Context, Event) {})

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop
	}
	return r
}

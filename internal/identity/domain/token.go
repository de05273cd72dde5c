package domain

import "time"

// BlacklistEntry marks a revoked, not yet expired token. It lives only as long as the token would.
type BlacklistEntry struct {
	TokenHash string    `json:"tokenHash"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason,omitempty"`
}

// TTL returns the remaining lifetime at now; non-positive means the entry is not needed.
func (e BlacklistEntry) TTL(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// TrackedToken is an issued token recorded under its user for bulk revocation.
type TrackedToken struct {
	TokenHash string
	ExpiresAt time.Time
}

// RotationRecord is the last successful refresh for a subject.
type RotationRecord struct {
	UserID        string
	LastRefreshAt time.Time
}

// TokenPair is the result of issuing or rotating tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ExpiresIn returns the access token lifetime in whole seconds from now.
func (p TokenPair) ExpiresIn(now time.Time) int64 {
	secs := int64(p.AccessExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// Revocation reasons.
const (
	ReasonLogout    = "logout"
	ReasonRotation  = "rotation"
	ReasonRevokeAll = "revoke_all"
	ReasonManual    = "manual"
)

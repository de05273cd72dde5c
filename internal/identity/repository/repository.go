package repository

import (
	"context"
	"time"

	"security-gateway/backend/internal/identity/domain"
)

// Blacklist persists revoked tokens and the per-user index of issued tokens.
// Implementations must be shared across instances.
type Blacklist interface {
	// Add stores entry until entry.ExpiresAt. Entries already expired are ignored.
	Add(ctx context.Context, entry domain.BlacklistEntry) error
	// Lookup returns the live entry for tokenHash, or nil when the token is not revoked.
	Lookup(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error)
	// Track records an issued token under userID until expiresAt.
	Track(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// Tracked returns the live tokens recorded under userID.
	Tracked(ctx context.Context, userID string) ([]domain.TrackedToken, error)
	// Untrack drops the per-user index.
	Untrack(ctx context.Context, userID string) error
}

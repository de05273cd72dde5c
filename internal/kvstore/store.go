// Package kvstore is the shared expiring key-value store behind the token blacklist and CSRF tokens.
// Production uses Redis so revocations are visible to every instance; MemoryStore serves
// single-instance development and tests.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps store transport failures. Callers on auth paths fail closed on it.
var ErrUnavailable = errors.New("kvstore: unavailable")

// Store is an expiring key-value store with per-key sets.
type Store interface {
	// Get returns the value for key. ok is false when the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key for ttl. ttl <= 0 is rejected.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// AddToSet adds member to the set at key and extends the set's expiry to at least ttl.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	// RemoveFromSet removes members from the set at key. Missing members are not an error.
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	// Members returns the members of the set at key; empty when missing.
	Members(ctx context.Context, key string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// ErrInvalidTTL is returned by Set and AddToSet for non-positive ttl.
var ErrInvalidTTL = errors.New("kvstore: ttl must be positive")

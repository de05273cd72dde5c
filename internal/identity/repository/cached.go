package repository

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"security-gateway/backend/internal/identity/domain"
)

// CachedBlacklist is a read-through cache of revoked tokens in front of a shared Blacklist.
// Only revoked results are cached, each until its token's own expiry, so a revocation made
// on another instance is never masked by a stale local miss.
type CachedBlacklist struct {
	Blacklist
	cache *expirable.LRU[string, domain.BlacklistEntry]
	now   func() time.Time
}

// NewCachedBlacklist wraps inner with an LRU of size entries. maxTTL bounds how long any
// entry may stay cached (use the refresh token lifetime).
func NewCachedBlacklist(inner Blacklist, size int, maxTTL time.Duration) *CachedBlacklist {
	if size <= 0 {
		size = 10000
	}
	return &CachedBlacklist{
		Blacklist: inner,
		cache:     expirable.NewLRU[string, domain.BlacklistEntry](size, nil, maxTTL),
		now:       time.Now,
	}
}

// Add caches the entry synchronously and writes through to the shared store. The local
// entry is kept even when the shared write fails so this instance still rejects the token.
func (c *CachedBlacklist) Add(ctx context.Context, entry domain.BlacklistEntry) error {
	if entry.TTL(c.now()) > 0 {
		c.cache.Add(entry.TokenHash, entry)
	}
	return c.Blacklist.Add(ctx, entry)
}

// Lookup answers from the cache on a live hit and otherwise asks the shared store.
func (c *CachedBlacklist) Lookup(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error) {
	if entry, ok := c.cache.Get(tokenHash); ok {
		if entry.TTL(c.now()) > 0 {
			return &entry, nil
		}
		c.cache.Remove(tokenHash)
	}
	entry, err := c.Blacklist.Lookup(ctx, tokenHash)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.TTL(c.now()) > 0 {
		c.cache.Add(tokenHash, *entry)
	}
	return entry, nil
}

// CacheLen returns the number of cached entries.
func (c *CachedBlacklist) CacheLen() int {
	return c.cache.Len()
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"security-gateway/backend/internal/identity/domain"
	"security-gateway/backend/internal/kvstore"
)

const (
	blacklistPrefix  = "blacklist:"
	userTokensPrefix = "user_tokens:"
)

// KVBlacklist implements Blacklist on a kvstore.Store. Every call is bounded by timeout.
type KVBlacklist struct {
	store   kvstore.Store
	timeout time.Duration
	now     func() time.Time
}

// NewKVBlacklist returns a Blacklist backed by store. timeout <= 0 means no extra bound.
func NewKVBlacklist(store kvstore.Store, timeout time.Duration) *KVBlacklist {
	return &KVBlacklist{store: store, timeout: timeout, now: time.Now}
}

func (b *KVBlacklist) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Add stores the entry as JSON with TTL equal to the token's remaining lifetime.
func (b *KVBlacklist) Add(ctx context.Context, entry domain.BlacklistEntry) error {
	ttl := entry.TTL(b.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.store.Set(ctx, blacklistPrefix+entry.TokenHash, string(data), ttl)
}

// Lookup returns the live blacklist entry for tokenHash. A present but undecodable value
// still counts as revoked.
func (b *KVBlacklist) Lookup(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	raw, ok, err := b.store.Get(ctx, blacklistPrefix+tokenHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var entry domain.BlacklistEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.ExpiresAt.IsZero() {
		return &domain.BlacklistEntry{TokenHash: tokenHash, ExpiresAt: b.now().Add(time.Minute)}, nil
	}
	return &entry, nil
}

// Track adds "hash|expUnix" to the user's token set and drops members that have expired.
func (b *KVBlacklist) Track(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := b.bound(ctx)
	defer cancel()
	key := userTokensPrefix + userID
	member := tokenHash + "|" + strconv.FormatInt(expiresAt.Unix(), 10)
	if err := b.store.AddToSet(ctx, key, member, ttl); err != nil {
		return err
	}
	if members, err := b.store.Members(ctx, key); err == nil {
		_, stale := b.partition(members)
		if len(stale) > 0 {
			_ = b.store.RemoveFromSet(ctx, key, stale...)
		}
	}
	return nil
}

// Tracked returns the user's tokens that have not yet expired. Expired and malformed members are
// removed from the set on the way.
func (b *KVBlacklist) Tracked(ctx context.Context, userID string) ([]domain.TrackedToken, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	key := userTokensPrefix + userID
	members, err := b.store.Members(ctx, key)
	if err != nil {
		return nil, err
	}
	live, stale := b.partition(members)
	if len(stale) > 0 {
		_ = b.store.RemoveFromSet(ctx, key, stale...)
	}
	return live, nil
}

func (b *KVBlacklist) partition(members []string) (live []domain.TrackedToken, stale []string) {
	now := b.now()
	live = make([]domain.TrackedToken, 0, len(members))
	for _, m := range members {
		tt, err := parseTracked(m)
		if err != nil || !tt.ExpiresAt.After(now) {
			stale = append(stale, m)
			continue
		}
		live = append(live, tt)
	}
	return live, stale
}

// Untrack removes the user's token set.
func (b *KVBlacklist) Untrack(ctx context.Context, userID string) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.store.Delete(ctx, userTokensPrefix+userID)
}

func parseTracked(member string) (domain.TrackedToken, error) {
	hash, exp, ok := strings.Cut(member, "|")
	if !ok || hash == "" {
		return domain.TrackedToken{}, fmt.Errorf("blacklist: malformed tracked member %q", member)
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return domain.TrackedToken{}, fmt.Errorf("blacklist: malformed expiry in %q: %w", member, err)
	}
	return domain.TrackedToken{TokenHash: hash, ExpiresAt: time.Unix(unix, 0).UTC()}, nil
}

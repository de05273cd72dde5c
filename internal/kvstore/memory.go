package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

const pruneEvery = 1024

type entry struct {
	value     string
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is an in-memory Store. Expired keys are dropped lazily on read and in a
// periodic prune on write.
type MemoryStore struct {
	mu     sync.RWMutex
	m      map[string]entry
	sets   map[string]setEntry
	writes int
	nowF   func() time.Time
}

// NewMemoryStore returns a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		sets: make(map[string]setEntry),
		nowF: time.Now,
	}
}

// WithClock replaces the store clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.nowF = now
	return s
}

// Get returns the value for key if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key until now+ttl.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, expiresAt: s.nowF().Add(ttl)}
	s.afterWriteLocked()
	return nil
}

// Delete removes key and any set stored under it.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	delete(s.sets, key)
	return nil
}

// AddToSet adds member to the set at key; the set expiry only moves forward.
func (s *MemoryStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	se, ok := s.sets[key]
	if !ok || !se.expiresAt.After(now) {
		se = setEntry{members: make(map[string]struct{})}
	}
	se.members[member] = struct{}{}
	if exp := now.Add(ttl); exp.After(se.expiresAt) {
		se.expiresAt = exp
	}
	s.sets[key] = se
	s.afterWriteLocked()
	return nil
}

// RemoveFromSet removes members; an emptied set is dropped.
func (s *MemoryStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(se.members, m)
	}
	if len(se.members) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// Members returns the set members in sorted order.
func (s *MemoryStore) Members(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	se, ok := s.sets[key]
	if !ok || !se.expiresAt.After(s.nowF()) {
		return nil, nil
	}
	out := make([]string, 0, len(se.members))
	for m := range se.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Len returns the number of live string keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowF()
	n := 0
	for _, e := range s.m {
		if e.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) afterWriteLocked() {
	s.writes++
	if s.writes%pruneEvery != 0 {
		return
	}
	now := s.nowF()
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
		}
	}
	for k, se := range s.sets {
		if !se.expiresAt.After(now) {
			delete(s.sets, k)
		}
	}
}

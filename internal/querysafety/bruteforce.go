package querysafety

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
)

// Penalizer raises the reputation of an IP. Implemented by the threat detector.
type Penalizer interface {
	Penalize(ctx context.Context, ip string, points float64)
}

// BruteForcePenalty is added to an IP's reputation when it gets blocked.
const BruteForcePenalty = 50

type attemptKey struct {
	ip      string
	subject string
}

// BruteForceGuard counts failures per (ip, subject) over a rolling window and blocks the IP
// once the threshold is reached. A success clears the pair's failures.
type BruteForceGuard struct {
	window    time.Duration
	threshold int
	penalizer Penalizer
	events    event.Recorder
	logger    *zap.Logger

	mu       sync.Mutex
	failures map[attemptKey][]time.Time
	blocked  map[string]time.Time
	now      func() time.Time
}

// NewBruteForceGuard returns a guard; penalizer, events and logger may be nil.
func NewBruteForceGuard(window time.Duration, threshold int, penalizer Penalizer, events event.Recorder, logger *zap.Logger) *BruteForceGuard {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &BruteForceGuard{
		window:    window,
		threshold: threshold,
		penalizer: penalizer,
		events:    event.OrNop(events),
		logger:    logging.WithComponent(logger, "brute_force"),
		failures:  make(map[attemptKey][]time.Time),
		blocked:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// WithClock replaces the guard clock. Used by tests.
func (g *BruteForceGuard) WithClock(now func() time.Time) *BruteForceGuard {
	g.now = now
	return g
}

// Blocked reports whether ip is blocked and for how long.
func (g *BruteForceGuard) Blocked(ip string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockedLocked(ip, g.now())
}

func (g *BruteForceGuard) blockedLocked(ip string, now time.Time) (time.Duration, bool) {
	until, ok := g.blocked[ip]
	if !ok {
		return 0, false
	}
	if !now.Before(until) {
		delete(g.blocked, ip)
		return 0, false
	}
	return until.Sub(now), true
}

// RecordFailure counts a failed attempt for subject from ip. It returns the block duration when
// this failure reached the threshold or the IP is already blocked.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, ip, subject string) (time.Duration, bool) {
	g.mu.Lock()
	now := g.now()
	if wait, ok := g.blockedLocked(ip, now); ok {
		g.mu.Unlock()
		return wait, true
	}
	key := attemptKey{ip: ip, subject: subject}
	recent := pruneBefore(g.failures[key], now.Add(-g.window))
	recent = append(recent, now)
	g.failures[key] = recent
	count := len(recent)
	tripped := count >= g.threshold
	if tripped {
		g.blocked[ip] = now.Add(g.window)
		delete(g.failures, key)
	}
	g.mu.Unlock()

	g.events.Record(ctx, event.New(event.TypeLoginFailed, event.SeverityLow, ip).
		WithUser(subject).
		With("attempts", count))
	if !tripped {
		return 0, false
	}
	g.logger.Warn("brute force threshold reached; blocking ip",
		zap.String("ip", ip),
		zap.Int("attempts", count),
		zap.Duration("block", g.window))
	if g.penalizer != nil {
		g.penalizer.Penalize(ctx, ip, BruteForcePenalty)
	}
	g.events.Record(ctx, event.New(event.TypeBruteForceBlocked, event.SeverityHigh, ip).
		WithUser(subject).
		With("attempts", count).
		With("block_seconds", int(g.window.Seconds())))
	return g.window, true
}

// RecordSuccess clears failures for (ip, subject).
func (g *BruteForceGuard) RecordSuccess(ctx context.Context, ip, subject string) {
	g.mu.Lock()
	delete(g.failures, attemptKey{ip: ip, subject: subject})
	g.mu.Unlock()
	g.events.Record(ctx, event.New(event.TypeLoginSucceeded, event.SeverityLow, ip).WithUser(subject))
}

// Failures returns the failures for (ip, subject) still inside the window.
func (g *BruteForceGuard) Failures(ip, subject string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(pruneBefore(g.failures[attemptKey{ip: ip, subject: subject}], g.now().Add(-g.window)))
}

// Prune drops expired failures and blocks.
func (g *BruteForceGuard) Prune() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	cutoff := now.Add(-g.window)
	for k, ts := range g.failures {
		if kept := pruneBefore(ts, cutoff); len(kept) == 0 {
			delete(g.failures, k)
		} else {
			g.failures[k] = kept
		}
	}
	for ip, until := range g.blocked {
		if !now.Before(until) {
			delete(g.blocked, ip)
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// Package threat implements the request-level defenses: IP reputation with decay, attack
// signature matching, fixed-window rate limiting, progressive slow-down and body size limits.
package threat

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
)

// Options configures a Detector.
type Options struct {
	// Enforce enables reputation scoring; off outside production.
	Enforce bool

	RateWindow time.Duration
	RateMax    int

	SlowWindow     time.Duration
	SlowDelayAfter int
	SlowDelay      time.Duration
	SlowMaxDelay   time.Duration

	MaxRequestSize int64

	FirstPartyUserAgents []string
	WhitelistedParams    []string

	EventBuffer int
}

// Penalty points added to an IP's reputation.
const (
	PenaltyAttack         = 25
	PenaltyCriticalAttack = 50
	PenaltyRateLimit      = 10
)

const scoreWindow = 24 * time.Hour

// Detector is the ThreatDetector. It owns all process-local threat state.
type Detector struct {
	reputations *Reputations
	patterns    *Patterns
	limiter     *RateLimiter
	slow        *SlowDown
	maxSize     int64

	events *event.Ring[event.Event]
	sink   event.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Detector forwarding its events to sink (may be nil).
func New(opts Options, sink event.Recorder, logger *zap.Logger) *Detector {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1000
	}
	if opts.SlowWindow <= 0 {
		opts.SlowWindow = opts.RateWindow
	}
	return &Detector{
		reputations: NewReputations(opts.Enforce),
		patterns:    NewPatterns(opts.WhitelistedParams, opts.FirstPartyUserAgents),
		limiter:     NewRateLimiter(opts.RateWindow, opts.RateMax),
		slow:        NewSlowDown(opts.SlowWindow, opts.SlowDelayAfter, opts.SlowDelay, opts.SlowMaxDelay),
		maxSize:     opts.MaxRequestSize,
		events:      event.NewRing[event.Event](opts.EventBuffer),
		sink:        event.OrNop(sink),
		logger:      logging.WithComponent(logger, "threat"),
		now:         time.Now,
	}
}

// WithClock replaces the clock of the detector and every counter it owns. Used by tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	d.reputations.now = now
	d.limiter.win.now = now
	d.slow.win.now = now
	return d
}

// CheckIPReputation decays and classifies ip.
func (d *Detector) CheckIPReputation(ip string) ReputationCheck {
	return d.reputations.Check(ip)
}

// IncreaseIPScore adds points to ip and returns the new score.
func (d *Detector) IncreaseIPScore(ip string, points float64) float64 {
	return d.reputations.Increase(ip, points)
}

// Reputation returns the stored entry for ip.
func (d *Detector) Reputation(ip string) (Reputation, bool) {
	return d.reputations.Get(ip)
}

// Penalize adds reputation points on behalf of other components.
func (d *Detector) Penalize(_ context.Context, ip string, points float64) {
	d.reputations.Increase(ip, points)
}

// DetectAttackPattern scans in for attack signatures. It never fails.
func (d *Detector) DetectAttackPattern(in Inspection) Detection {
	return d.patterns.Detect(in)
}

// Record keeps e in the detector's buffer and forwards it.
func (d *Detector) Record(ctx context.Context, e event.Event) {
	d.events.Push(e)
	d.sink.Record(ctx, e)
}

// Events returns buffered events, oldest first.
func (d *Detector) Events() []event.Event {
	return d.events.Snapshot()
}

// SecurityScore is 100 minus 10 per high or critical event and 0.5 per event over the last
// 24 hours, clamped to [0, 100].
func (d *Detector) SecurityScore() float64 {
	cutoff := d.now().Add(-scoreWindow)
	var all, severe int
	for _, e := range d.events.Snapshot() {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		all++
		if e.Severity.AtLeast(event.SeverityHigh) {
			severe++
		}
	}
	score := 100 - 10*float64(severe) - 0.5*float64(all)
	return math.Max(0, math.Min(100, score))
}

// Prune drops idle reputation entries and expired rate windows.
func (d *Detector) Prune() {
	reps := d.reputations.Prune()
	wins := d.limiter.win.prune() + d.slow.win.prune()
	if reps > 0 || wins > 0 {
		d.logger.Debug("threat state pruned", zap.Int("reputations", reps), zap.Int("windows", wins))
	}
}

func (d *Detector) newEvent(typ event.Type, sev event.Severity, ip string) event.Event {
	e := event.New(typ, sev, ip)
	e.Timestamp = d.now().UTC()
	return e
}

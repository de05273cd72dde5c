// Package monitor aggregates security events from every gateway component into counters,
// metrics, threshold alerts and a rolling security score.
package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/telemetry"
)

// EventStore persists events durably.
type EventStore interface {
	SaveEvent(ctx context.Context, e event.Event) error
}

// Thresholds trigger alerts at every multiple of the count, or when the score drops below ScoreFloor.
type Thresholds struct {
	FailedLogins int
	Suspicious   int
	Attacks      int
	ScoreFloor   float64
}

// Options configures a Monitor.
type Options struct {
	Thresholds Thresholds
	BufferSize int
	// AlertRate and AlertBurst bound how fast alerts are dispatched to sinks.
	AlertRate  rate.Limit
	AlertBurst int
}

// Counters are the daily aggregates.
type Counters struct {
	Requests         int64 `json:"requests"`
	Blocked          int64 `json:"blocked"`
	Suspicious       int64 `json:"suspicious"`
	Attacks          int64 `json:"attacks"`
	FailedLogins     int64 `json:"failedLogins"`
	SuccessfulLogins int64 `json:"successfulLogins"`
}

const alertRetention = 24 * time.Hour

// Monitor is the SecurityMonitor. It implements event.Recorder.
type Monitor struct {
	thresholds Thresholds
	events     *event.Ring[event.Event]
	store      EventStore
	emitter    telemetry.EventEmitter
	async      *telemetry.Async
	metrics    *Metrics
	dispatch   *rate.Limiter
	sinks      []AlertSink
	logger     *zap.Logger

	mu            sync.Mutex
	counters      Counters
	alerts        []Alert
	scoreBreached bool
	day           string
	lastReport    *Report
	now           func() time.Time
}

// New returns a Monitor. store, emitter, async, metrics and logger may be nil.
func New(opts Options, store EventStore, emitter telemetry.EventEmitter, async *telemetry.Async, metrics *Metrics, logger *zap.Logger) *Monitor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.AlertRate <= 0 {
		opts.AlertRate = rate.Every(time.Second)
	}
	if opts.AlertBurst <= 0 {
		opts.AlertBurst = 10
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if async == nil {
		async = telemetry.NewAsync(logger, 0)
	}
	m := &Monitor{
		thresholds: opts.Thresholds,
		events:     event.NewRing[event.Event](opts.BufferSize),
		store:      store,
		emitter:    emitter,
		async:      async,
		metrics:    metrics,
		dispatch:   rate.NewLimiter(opts.AlertRate, opts.AlertBurst),
		logger:     logging.WithComponent(logger, "monitor"),
		now:        time.Now,
	}
	m.day = dayOf(m.now())
	m.metrics.securityScore.Set(100)
	return m
}

// WithClock replaces the monitor clock. Used by tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	m.day = dayOf(now())
	return m
}

// AddSink registers an alert sink.
func (m *Monitor) AddSink(s AlertSink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Metrics returns the monitor's collectors.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Record ingests e: counters, buffer, metrics, durable log and external emitter. Persistence and
// emission never block or fail the caller.
func (m *Monitor) Record(ctx context.Context, e event.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now().UTC()
	}
	m.events.Push(e)
	m.metrics.eventsTotal.WithLabelValues(string(e.Type), string(e.Severity)).Inc()

	if m.store != nil {
		m.async.Go("persist security event", func(ctx context.Context) error {
			return m.store.SaveEvent(ctx, e)
		})
	}
	telemetry.EmitAsync(m.async, m.emitter, e)

	var pending []Alert
	now := m.now()
	m.mu.Lock()
	switch e.Type {
	case event.TypeLoginFailed:
		m.counters.FailedLogins++
		if crossed(m.counters.FailedLogins, m.thresholds.FailedLogins) {
			pending = append(pending, newAlert(AlertFailedLogins, event.SeverityHigh, now,
				map[string]any{"count": m.counters.FailedLogins, "ip": e.IP},
				"%d failed logins today", m.counters.FailedLogins))
		}
	case event.TypeLoginSucceeded:
		m.counters.SuccessfulLogins++
	case event.TypeAttackDetected, event.TypeInjectionDetected:
		m.counters.Attacks++
		if crossed(m.counters.Attacks, m.thresholds.Attacks) {
			pending = append(pending, newAlert(AlertAttacks, event.SeverityCritical, now,
				map[string]any{"count": m.counters.Attacks, "ip": e.IP},
				"%d attack attempts today", m.counters.Attacks))
		}
	case event.TypeIPBlocked, event.TypeRateLimitExceeded, event.TypeBruteForceBlocked, event.TypeRequestTooLarge:
		m.counters.Blocked++
	case event.TypeSuspiciousActivity, event.TypeCSRFViolation, event.TypeQueryRejected,
		event.TypeAuthFailure, event.TypeRefreshThrottled, event.TypeAccessDenied:
		m.counters.Suspicious++
		if crossed(m.counters.Suspicious, m.thresholds.Suspicious) {
			pending = append(pending, newAlert(AlertSuspicious, event.SeverityMedium, now,
				map[string]any{"count": m.counters.Suspicious},
				"%d suspicious events today", m.counters.Suspicious))
		}
	}
	m.mu.Unlock()

	for _, a := range pending {
		m.raise(a)
	}
	m.checkScore()
}

// ObserveRequest counts a served request.
func (m *Monitor) ObserveRequest(method string, status int, d time.Duration) {
	m.mu.Lock()
	m.counters.Requests++
	m.mu.Unlock()
	m.metrics.observeRequest(method, status, d)
}

// crossed reports whether count just reached a multiple of threshold.
func crossed(count int64, threshold int) bool {
	return threshold > 0 && count > 0 && count%int64(threshold) == 0
}

// checkScore raises a low-score alert once per breach of the floor.
func (m *Monitor) checkScore() {
	score := m.CalculateSecurityScore()
	m.metrics.securityScore.Set(score)

	m.mu.Lock()
	below := m.thresholds.ScoreFloor > 0 && score < m.thresholds.ScoreFloor
	fire := below && !m.scoreBreached
	m.scoreBreached = below
	m.mu.Unlock()

	if fire {
		m.raise(newAlert(AlertLowScore, event.SeverityCritical, m.now(),
			map[string]any{"score": score, "floor": m.thresholds.ScoreFloor},
			"security score %.1f below %.1f", score, m.thresholds.ScoreFloor))
		m.metrics.securityScore.Set(m.CalculateSecurityScore())
	}
}

// CalculateSecurityScore is 100 minus capped penalties for failed logins (2 each, max 30),
// suspicious events (3, max 30), attacks (10, max 40) and blocks (0.5, max 20), minus 5 per
// active critical alert, floored at 0.
func (m *Monitor) CalculateSecurityScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters
	score := 100.0
	score -= math.Min(float64(c.FailedLogins)*2, 30)
	score -= math.Min(float64(c.Suspicious)*3, 30)
	score -= math.Min(float64(c.Attacks)*10, 40)
	score -= math.Min(float64(c.Blocked)*0.5, 20)
	cutoff := m.now().Add(-alertRetention)
	for _, a := range m.alerts {
		if a.Severity == event.SeverityCritical && a.Timestamp.After(cutoff) {
			score -= 5
		}
	}
	return math.Max(0, score)
}

// Counters returns a copy of today's counters.
func (m *Monitor) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Close waits for in-flight persistence and alert dispatch.
func (m *Monitor) Close(ctx context.Context) error {
	return m.async.Wait(ctx)
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

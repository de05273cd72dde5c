package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
)

// AlertType names the threshold that fired.
type AlertType string

const (
	AlertFailedLogins AlertType = "HIGH_FAILED_LOGINS"
	AlertSuspicious   AlertType = "SUSPICIOUS_ACTIVITY"
	AlertAttacks      AlertType = "ATTACK_ATTEMPTS"
	AlertLowScore     AlertType = "LOW_SECURITY_SCORE"
)

// Alert is raised when an aggregated metric crosses a threshold.
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Message   string         `json:"message"`
	Severity  event.Severity `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertSink delivers alerts somewhere outside the process. Sends are best-effort.
type AlertSink interface {
	SendAlert(ctx context.Context, a Alert) error
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(ctx context.Context, a Alert) error

// SendAlert calls f.
func (f AlertSinkFunc) SendAlert(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogSink writes alerts to the structured log.
func LogSink(logger *zap.Logger) AlertSink {
	return AlertSinkFunc(func(_ context.Context, a Alert) error {
		logger.Warn("security alert",
			zap.String("alert_id", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message),
			zap.Any("data", a.Data))
		return nil
	})
}

func newAlert(typ AlertType, sev event.Severity, now time.Time, data map[string]any, format string, args ...any) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   fmt.Sprintf(format, args...),
		Severity:  sev,
		Data:      data,
		Timestamp: now.UTC(),
	}
}

// raise stores a and dispatches it to every sink, subject to the dispatch rate. Caller holds no lock.
func (m *Monitor) raise(a Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
	m.metrics.alertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()

	if !m.dispatch.Allow() {
		m.metrics.alertsDropped.Inc()
		m.logger.Warn("alert dispatch rate exceeded; alert kept but not sent",
			zap.String("alert_id", a.ID), zap.String("type", string(a.Type)))
		return
	}
	for _, sink := range m.sinks {
		sink := sink
		m.async.Go("alert "+string(a.Type), func(ctx context.Context) error {
			return sink.SendAlert(ctx, a)
		})
	}
}

// Alerts returns alerts raised in the last 24 hours, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

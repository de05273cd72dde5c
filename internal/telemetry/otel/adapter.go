package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/monitor"
)

// recordEmitter is the subset of otellog.Logger used by the adapters.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// Adapter turns security events and alerts into OTel log records. It implements
// telemetry.EventEmitter and monitor.AlertSink.
type Adapter struct {
	logger recordEmitter
}

// NewAdapter returns an Adapter logging through provider. A nil provider yields a no-op adapter.
func NewAdapter(provider *sdklog.LoggerProvider) *Adapter {
	if provider == nil {
		return &Adapter{}
	}
	return &Adapter{logger: provider.Logger(instrumentationName)}
}

// NewAdapterWithLogger returns an Adapter over logger. Used by tests.
func NewAdapterWithLogger(logger recordEmitter) *Adapter {
	return &Adapter{logger: logger}
}

// Emit writes e as a log record with the event details as the JSON body.
func (a *Adapter) Emit(ctx context.Context, e event.Event) error {
	if a == nil || a.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(orNow(e.Timestamp))
	rec.SetSeverity(severityOf(e.Severity))
	rec.SetSeverityText(string(e.Severity))
	rec.SetEventName(string(e.Type))
	if len(e.Details) > 0 {
		if body, err := json.Marshal(e.Details); err == nil {
			rec.SetBody(otellog.BytesValue(body))
		}
	}
	rec.AddAttributes(
		otellog.String("event_id", e.ID),
		otellog.String("event_type", string(e.Type)),
	)
	if e.IP != "" {
		rec.AddAttributes(otellog.String("client_ip", e.IP))
	}
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	a.logger.Emit(ctx, rec)
	return nil
}

// SendAlert writes alert as a log record whose body is the alert message.
func (a *Adapter) SendAlert(ctx context.Context, alert monitor.Alert) error {
	if a == nil || a.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(orNow(alert.Timestamp))
	rec.SetSeverity(severityOf(alert.Severity))
	rec.SetSeverityText(string(alert.Severity))
	rec.SetEventName("security_alert")
	rec.SetBody(otellog.StringValue(alert.Message))
	rec.AddAttributes(
		otellog.String("alert_id", alert.ID),
		otellog.String("alert_type", string(alert.Type)),
	)
	a.logger.Emit(ctx, rec)
	return nil
}

func severityOf(s event.Severity) otellog.Severity {
	switch s {
	case event.SeverityCritical:
		return otellog.SeverityFatal
	case event.SeverityHigh:
		return otellog.SeverityError
	case event.SeverityMedium:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

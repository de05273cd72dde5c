// Package producer publishes security events and alerts to Kafka for downstream consumers.
package producer

import (
	"context"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/monitor"
)

// Message kinds carried in the "kind" header.
const (
	KindEvent = "event"
	KindAlert = "alert"
)

// HeaderKind is the Kafka header that tells consumers how to decode the value.
const HeaderKind = "kind"

// Producer emits events and alerts. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single security event.
	Emit(ctx context.Context, e event.Event) error
	// SendAlert sends a monitor alert.
	SendAlert(ctx context.Context, a monitor.Alert) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

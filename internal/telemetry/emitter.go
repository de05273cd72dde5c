// Package telemetry forwards security events and alerts to external sinks (Kafka, OpenTelemetry
// logs, Loki) without blocking the request path.
package telemetry

import (
	"context"
	"errors"

	"security-gateway/backend/internal/event"
)

// EventEmitter emits security events to an external sink. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, e event.Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, e event.Event) error { return f(ctx, e) }

// Fanout emits to every non-nil emitter and joins their errors.
func Fanout(emitters ...EventEmitter) EventEmitter {
	var live []EventEmitter
	for _, em := range emitters {
		if em != nil {
			live = append(live, em)
		}
	}
	return EmitterFunc(func(ctx context.Context, e event.Event) error {
		var errs []error
		for _, em := range live {
			if err := em.Emit(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

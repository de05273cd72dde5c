package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
)

// emitTimeout is the max time allowed for a single async task. Used by Async and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight async tasks before closing sinks.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Async runs best-effort side work (event persistence, alert dispatch) off the request path.
// Failures are logged and never reach the caller.
type Async struct {
	wg      sync.WaitGroup
	logger  *zap.Logger
	timeout time.Duration
}

// NewAsync returns a runner whose tasks each get timeout (emitTimeout when zero). logger may be nil.
func NewAsync(logger *zap.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = emitTimeout
	}
	return &Async{logger: logging.WithComponent(logger, "async"), timeout: timeout}
}

// Go runs fn in a goroutine with a fresh context bounded by the runner timeout, so request
// cancellation does not abort the task. A nil runner runs nothing.
func (a *Async) Go(name string, fn func(ctx context.Context) error) {
	if a == nil || fn == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.logger.Warn("async task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight tasks finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitAsync emits e through emitter on the runner. emitter may be nil.
func EmitAsync(a *Async, emitter EventEmitter, e event.Event) {
	if emitter == nil {
		return
	}
	a.Go("emit "+string(e.Type), func(ctx context.Context) error {
		return emitter.Emit(ctx, e)
	})
}

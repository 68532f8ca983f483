// Package schedule runs periodic tasks that can be cancelled as a unit.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handle is the cancellation token of a running task.
type Handle struct {
	name     string
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs fn every period until the parent context is cancelled or Stop is
// called. Invocations never overlap; a slow fn delays the next tick instead.
// The context passed to fn is cancelled when the task stops.
func Start(parent context.Context, name string, period time.Duration, fn func(ctx context.Context), logger *slog.Logger) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		if logger != nil {
			logger.Debug("scheduled task started", "task", name, "period", period)
		}

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if logger != nil {
					logger.Debug("scheduled task stopped", "task", name)
				}
				return
			case <-ticker.C:
				// A tick and a cancellation can be ready together; cancellation wins.
				if ctx.Err() != nil {
					continue
				}
				fn(ctx)
			}
		}
	}()

	return h
}

// Cancel requests the task to stop without waiting. Safe to call from inside fn.
func (h *Handle) Cancel() {
	h.cancel()
}

// Stop cancels the task and waits for the loop to exit. It must not be called from fn.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Name() string {
	return h.name
}

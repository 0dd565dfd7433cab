// Package dispatch runs named background jobs detached from the request that
// triggered them. The order-completed hook acks immediately and hands the
// provisioning workflow here.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// New builds a dispatcher. timeout bounds each job; zero means no bound.
func New(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, timeout: timeout}
}

// Go runs fn on its own goroutine with a context detached from the caller's.
// Panics are recovered and logged; errors are logged, never propagated. The
// caller has already acked by the time fn runs.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background job panicked", "job", name, "panic", r)
			}
		}()

		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		if err := fn(ctx); err != nil {
			d.logger.Error("background job failed", "job", name, "error", err)
		}
	}()
}

// Wait blocks until running jobs finish or ctx expires. Used on shutdown so
// in-flight provisioning runs are not cut off mid-workflow.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PeriodicWorker runs a sweep function once immediately and then on a fixed
// interval until shut down. The settlement reconciler runs on one.
type PeriodicWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewPeriodicWorker returns a worker that will invoke its sweep every
// interval once started.
func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs right away so a
// freshly restarted process does not wait a full interval to catch up.
// Subsequent calls are no-ops. The sweep must honor ctx cancellation.
func (w *PeriodicWorker) Start(sweep func(ctx context.Context)) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go func() {
			defer close(w.done)

			w.logger.Info("periodic worker started",
				zap.String("worker", w.name),
				zap.Duration("interval", w.interval),
			)

			ticker := time.NewTicker(w.interval)
			defer ticker.Stop()

			sweep(w.ctx)
			for {
				select {
				case <-w.ctx.Done():
					w.logger.Info("periodic worker stopped", zap.String("worker", w.name))
					return
				case <-ticker.C:
					sweep(w.ctx)
				}
			}
		}()
	})
}

// Shutdown cancels the loop and waits for an in-progress sweep to finish or
// ctx to expire. Shutting down a worker that never started returns nil.
func (w *PeriodicWorker) Shutdown(ctx context.Context) error {
	w.cancel()
	if !w.started.Load() {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("periodic worker shutdown timed out",
			zap.String("worker", w.name),
		)
		return ctx.Err()
	}
}

// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Runner is a long-lived queue consumer, typically a *worker.Worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a fixed pool of runners.
type Dispatcher struct {
	queue          harvest.Queue
	workers        []Runner
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// New creates a Dispatcher. A non-positive enqueueTimeout makes Submit fail
// fast when the queue is full.
func New(queue harvest.Queue, workers []Runner, enqueueTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:          queue,
		workers:        workers,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// Run starts all workers and blocks until every one of them has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range d.workers {
		g.Go(func() error {
			d.logger.Debug("worker started", zap.Int("worker", i))
			w.Run(gctx)
			d.logger.Debug("worker stopped", zap.Int("worker", i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

// Submit queues item, waiting at most the enqueue timeout for room. A full
// queue yields harvest.ErrBusy.
func (d *Dispatcher) Submit(ctx context.Context, item harvest.QueueItem) error {
	timeout := d.enqueueTimeout
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.queue.Enqueue(enqueueCtx, item); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("queue full after %s: %w", timeout, harvest.ErrBusy)
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Pending removes and returns items that never reached a worker. It is meant
// for shutdown, after Run has returned.
func (d *Dispatcher) Pending() []harvest.QueueItem {
	if q, ok := d.queue.(interface{ Drain() []harvest.QueueItem }); ok {
		return q.Drain()
	}
	return nil
}

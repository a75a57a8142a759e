// Package dispatcher runs the worker pool over a filled work queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/worker"
)

// DefaultPollInterval is how often the dispatcher checks for completion.
const DefaultPollInterval = 300 * time.Millisecond

// Signal is the stop flag the dispatcher watches while workers drain the queue.
type Signal interface {
	Stopped() bool
	Done() <-chan struct{}
}

// Dispatcher fans the queue out to a fixed pool of workers and joins them.
type Dispatcher struct {
	queue        worker.Queue
	signal       Signal
	workers      []*worker.Worker
	pollInterval time.Duration
	logger       *zap.Logger
}

// New creates a Dispatcher. A non-positive poll interval uses DefaultPollInterval.
func New(
	queue worker.Queue,
	signal Signal,
	workers []*worker.Worker,
	pollInterval time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:        queue,
		signal:       signal,
		workers:      workers,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run starts every worker, waits until the queue is drained or the signal is
// set, then joins the pool. In-flight enrichments always finish before Run
// returns. It reports the total number of items enriched.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			processed.Add(int64(w.Run(gctx)))
			return nil
		})
	}
	d.logger.Debug("workers started", zap.Int("workers", len(d.workers)))

	d.poll(ctx)

	if err := g.Wait(); err != nil {
		return int(processed.Load()), fmt.Errorf("join workers: %w", err)
	}
	d.logger.Debug("workers joined",
		zap.Int64("processed", processed.Load()),
		zap.Int("remaining", d.queue.Len()),
	)
	return int(processed.Load()), nil
}

func (d *Dispatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		if d.queue.Len() == 0 || d.signal.Stopped() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-d.signal.Done():
			return
		case <-ticker.C:
		}
	}
}

// Package worker implements the enrichment loop run by each pool member.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
)

// Queue is the part of the work queue a worker consumes.
type Queue interface {
	TryDequeue() (*grammar.Pattern, bool)
	Len() int
}

// Enricher fills the detail fields of a pattern in place.
type Enricher interface {
	Enrich(ctx context.Context, p *grammar.Pattern)
}

// Signal reports whether the run has been cancelled.
type Signal interface {
	Stopped() bool
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls Worker behavior.
type Config struct {
	// Index identifies the worker in logs.
	Index int
	// ProgressEvery logs and emits a heartbeat whenever the remaining queue
	// length after a dequeue is a multiple of it. Zero disables heartbeats.
	ProgressEvery int
	RunID         [16]byte
	Level         grammar.Level
}

// Worker drains the queue until it is empty or the run is cancelled.
type Worker struct {
	queue    Queue
	enricher Enricher
	signal   Signal
	emitter  progress.Emitter
	clock    Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. A nil emitter discards progress events.
func New(
	queue Queue,
	enricher Enricher,
	signal Signal,
	emitter progress.Emitter,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		enricher: enricher,
		signal:   signal,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", cfg.Index)),
	}
}

// Run processes items until the queue is drained or the signal is set, and
// returns how many items this worker enriched. An item dequeued after the
// signal was set is left unenriched.
func (w *Worker) Run(ctx context.Context) int {
	processed := 0
	for {
		if w.stopped(ctx) {
			w.logger.Debug("worker stopping", zap.Int("processed", processed))
			return processed
		}
		item, ok := w.queue.TryDequeue()
		if !ok {
			w.logger.Debug("queue drained", zap.Int("processed", processed))
			return processed
		}
		remaining := w.queue.Len()
		if w.stopped(ctx) {
			w.logger.Debug("worker stopping", zap.Int("processed", processed), zap.Int("num", item.Num))
			return processed
		}
		w.enrich(ctx, item)
		processed++
		w.observe(remaining)
	}
}

func (w *Worker) stopped(ctx context.Context) bool {
	return w.signal.Stopped() || ctx.Err() != nil
}

func (w *Worker) enrich(ctx context.Context, item *grammar.Pattern) {
	start := w.clock.Now()
	w.enricher.Enrich(ctx, item)
	end := w.clock.Now()
	w.emitter.Emit(progress.Event{
		RunID: w.cfg.RunID,
		TS:    end,
		Stage: progress.StageItemEnriched,
		Level: int(w.cfg.Level),
		URL:   item.PageURL,
		Num:   item.Num,
		Dur:   end.Sub(start),
	})
}

func (w *Worker) observe(remaining int) {
	if w.cfg.ProgressEvery <= 0 || remaining%w.cfg.ProgressEvery != 0 {
		return
	}
	w.logger.Info("enrichment progress", zap.String("level", w.cfg.Level.String()), zap.Int("remaining", remaining))
	w.emitter.Emit(progress.Event{
		RunID:     w.cfg.RunID,
		TS:        w.clock.Now(),
		Stage:     progress.StageHeartbeat,
		Level:     int(w.cfg.Level),
		Remaining: remaining,
	})
}

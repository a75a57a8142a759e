package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pagesListed   *prometheus.CounterVec
	rowsListed    *prometheus.CounterVec
	itemsEnriched *prometheus.CounterVec
	enrichTime    prometheus.Histogram
	queueDepth    *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grammar_crawler_runs_started_total",
			Help: "Crawl runs started per level.",
		}, []string{"level"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grammar_crawler_runs_completed_total",
			Help: "Crawl runs finished per level and result.",
		}, []string{"level", "result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grammar_crawler_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grammar_crawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"level", "result"}),
		pagesListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grammar_crawler_index_pages_total",
			Help: "Index pages processed per level and outcome.",
		}, []string{"level", "outcome"}),
		rowsListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grammar_crawler_rows_listed_total",
			Help: "Grammar rows parsed from index pages.",
		}, []string{"level"}),
		itemsEnriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grammar_crawler_items_enriched_total",
			Help: "Grammar patterns whose detail page was processed.",
		}, []string{"level"}),
		enrichTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grammar_crawler_enrich_duration_seconds",
			Help:    "Time spent fetching and parsing one detail page.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grammar_crawler_queue_remaining",
			Help: "Items still waiting in the work queue at the last heartbeat.",
		}, []string{"level"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.pagesListed,
		s.rowsListed,
		s.itemsEnriched,
		s.enrichTime,
		s.queueDepth,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	level := strconv.Itoa(evt.Level)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(level).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, level, "success")
	case progress.StageRunCancelled:
		s.finishRun(evt, level, "cancelled")
	case progress.StageRunError:
		s.finishRun(evt, level, "error")
	case progress.StagePageListed:
		s.pagesListed.WithLabelValues(level, "listed").Inc()
		if evt.Items > 0 {
			s.rowsListed.WithLabelValues(level).Add(float64(evt.Items))
		}
	case progress.StagePageFailed:
		s.pagesListed.WithLabelValues(level, "failed").Inc()
	case progress.StageItemEnriched:
		s.itemsEnriched.WithLabelValues(level).Inc()
		if evt.Dur > 0 {
			s.enrichTime.Observe(evt.Dur.Seconds())
		}
	case progress.StageHeartbeat:
		s.queueDepth.WithLabelValues(level).Set(float64(evt.Remaining))
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, level, result string) {
	s.runsCompleted.WithLabelValues(level, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(level, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
	s.queueDepth.WithLabelValues(level).Set(0)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

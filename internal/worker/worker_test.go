package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/clock/system"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/queue/memory"
)

func TestWorkerDrainsQueue(t *testing.T) {
	t.Parallel()

	q := fillQueue(t, 25)
	enricher := &recordingEnricher{}
	emitter := &recordingEmitter{}
	w := New(q, enricher, &flagSignal{}, emitter, fixedClock{at: time.Unix(0, 0).UTC()}, Config{
		Index:         1,
		ProgressEvery: 10,
		RunID:         [16]byte{1},
		Level:         3,
	}, zap.NewNop())

	processed := w.Run(context.Background())

	require.Equal(t, 25, processed)
	require.Zero(t, q.Len())
	require.Len(t, enricher.Seen(), 25)
	for _, p := range enricher.Seen() {
		require.NotNil(t, p.Usage)
	}

	// Remaining after each dequeue runs 24..0, so heartbeats fire at 20, 10 and 0.
	var remaining []int
	enriched := 0
	for _, evt := range emitter.Events() {
		switch evt.Stage {
		case progress.StageHeartbeat:
			remaining = append(remaining, evt.Remaining)
		case progress.StageItemEnriched:
			enriched++
			require.Equal(t, 3, evt.Level)
		}
	}
	require.Equal(t, []int{20, 10, 0}, remaining)
	require.Equal(t, 25, enriched)
}

func TestWorkerStopsBeforeDequeue(t *testing.T) {
	t.Parallel()

	q := fillQueue(t, 3)
	signal := &flagSignal{}
	signal.stopped.Store(true)
	enricher := &recordingEnricher{}
	w := New(q, enricher, signal, nil, system.New(), Config{}, nil)

	require.Zero(t, w.Run(context.Background()))
	require.Equal(t, 3, q.Len(), "nothing is taken once the signal is set")
	require.Empty(t, enricher.Seen())
}

func TestWorkerLeavesItemUnenrichedWhenStoppedAfterDequeue(t *testing.T) {
	t.Parallel()

	q := fillQueue(t, 2)
	signal := &flagSignal{trip: 2}
	enricher := &recordingEnricher{}
	w := New(q, enricher, signal, nil, system.New(), Config{}, zap.NewNop())

	require.Zero(t, w.Run(context.Background()))
	require.Equal(t, 1, q.Len(), "the dequeued item is dropped, the rest stays queued")
	require.Empty(t, enricher.Seen())
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := fillQueue(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := New(q, &recordingEnricher{}, &flagSignal{}, nil, system.New(), Config{}, zap.NewNop())

	require.Zero(t, w.Run(ctx))
	require.Equal(t, 5, q.Len())
}

func TestWorkersShareQueueWithoutDuplicates(t *testing.T) {
	t.Parallel()

	q := fillQueue(t, 200)
	enricher := &recordingEnricher{}
	var wg sync.WaitGroup
	var total atomic.Int64
	for i := 0; i < 5; i++ {
		w := New(q, enricher, &flagSignal{}, nil, system.New(), Config{Index: i, ProgressEvery: 10}, zap.NewNop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			total.Add(int64(w.Run(context.Background())))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 200, total.Load())
	seen := make(map[int]int)
	for _, p := range enricher.Seen() {
		seen[p.Num]++
	}
	require.Len(t, seen, 200)
	for num, count := range seen {
		require.Equal(t, 1, count, "pattern %d enriched more than once", num)
	}
}

func fillQueue(t *testing.T, n int) *memory.Queue[*grammar.Pattern] {
	t.Helper()
	q := memory.NewQueue[*grammar.Pattern](n)
	for i := 1; i <= n; i++ {
		require.NoError(t, q.Enqueue(&grammar.Pattern{
			Level:   3,
			Num:     i,
			PageURL: "https://jlptsensei.com/learn-japanese-grammar/item/",
		}))
	}
	return q
}

type recordingEnricher struct {
	mu   sync.Mutex
	seen []*grammar.Pattern
}

func (e *recordingEnricher) Enrich(_ context.Context, p *grammar.Pattern) {
	p.Usage = grammar.StringPtr("<table class=\"usage\"></table>")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, p)
}

func (e *recordingEnricher) Seen() []*grammar.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*grammar.Pattern(nil), e.seen...)
}

// flagSignal reports stopped once set, or from the trip-th call onwards.
type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type flagSignal struct {
	stopped atomic.Bool
	calls   atomic.Int64
	trip    int64
}

func (s *flagSignal) Stopped() bool {
	n := s.calls.Add(1)
	if s.trip > 0 && n >= s.trip {
		return true
	}
	return s.stopped.Load()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

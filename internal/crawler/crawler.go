package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/clock/system"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/dispatcher"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/id/uuid"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/queue/memory"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/telemetry"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/worker"
)

// Defaults applied when no option overrides them.
const (
	DefaultBaseURL       = "https://jlptsensei.com"
	DefaultWorkers       = 5
	DefaultProgressEvery = 10
)

var errAlreadyRan = errors.New("crawler: Run may only be called once")

// Deps are the collaborators a Crawler needs.
type Deps struct {
	Fetcher  Fetcher
	Parser   Parser
	Exporter Exporter
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithBaseURL overrides the site root.
func WithBaseURL(base string) Option {
	return func(c *Crawler) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithWorkers sets the pool size. Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithProgressEvery sets how often workers report the remaining queue length.
func WithProgressEvery(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.progressEvery = n
		}
	}
}

// WithPollInterval sets how often the pool checks for completion.
func WithPollInterval(d time.Duration) Option {
	return func(c *Crawler) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(c *Crawler) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithClock injects the time source.
func WithClock(clock Clock) Option {
	return func(c *Crawler) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator injects the run ID source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Crawler) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Crawler harvests every grammar pattern of one JLPT level.
type Crawler struct {
	level     grammar.Level
	outputDir string
	deps      Deps
	signal    *StopSignal
	ran       atomic.Bool

	baseURL       string
	workers       int
	progressEvery int
	pollInterval  time.Duration
	emitter       progress.Emitter
	clock         Clock
	ids           IDGenerator
	logger        *zap.Logger

	mu       sync.Mutex
	result   []*grammar.Pattern
	artifact string
}

// New validates level and returns a Crawler that writes into outputDir.
func New(level grammar.Level, outputDir string, deps Deps, opts ...Option) (*Crawler, error) {
	if err := level.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Exporter == nil {
		return nil, errors.New("crawler: fetcher, parser and exporter are required")
	}
	c := &Crawler{
		level:         level,
		outputDir:     outputDir,
		deps:          deps,
		signal:        NewStopSignal(),
		baseURL:       DefaultBaseURL,
		workers:       DefaultWorkers,
		progressEvery: DefaultProgressEvery,
		pollInterval:  dispatcher.DefaultPollInterval,
		emitter:       progress.Discard{},
		clock:         system.New(),
		ids:           uuid.New(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("level", level.String()))
	return c, nil
}

// Level returns the level this crawler was built for.
func (c *Crawler) Level() grammar.Level {
	return c.level
}

// Stop requests cancellation. Workers finish the item they are enriching
// and take no new ones. Safe to call from any goroutine, any number of times.
func (c *Crawler) Stop() {
	c.signal.Stop()
}

// Stopped reports whether Stop has been called.
func (c *Crawler) Stopped() bool {
	return c.signal.Stopped()
}

// Result returns the ordered result set of a completed run. It is empty
// until Run succeeds and stays empty after a cancelled run.
func (c *Crawler) Result() []*grammar.Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*grammar.Pattern(nil), c.result...)
}

// Artifact returns the location of the written output, if any.
func (c *Crawler) Artifact() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// Run discovers, lists, enriches and persists the level. Cancelling ctx
// behaves like Stop and additionally aborts in-flight requests.
func (c *Crawler) Run(ctx context.Context) error {
	if !c.ran.CompareAndSwap(false, true) {
		return errAlreadyRan
	}
	stopBridge := context.AfterFunc(ctx, c.signal.Stop)
	defer stopBridge()

	ctx, span := telemetry.Tracer().Start(ctx, "crawl.level")
	defer span.End()
	span.SetAttributes(attribute.Int("jlpt.level", int(c.level)), attribute.Int("crawler.workers", c.workers))
	err := c.run(ctx)
	switch {
	case errors.Is(err, ErrCancelled):
		span.SetAttributes(attribute.Bool("crawler.cancelled", true))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetAttributes(attribute.Int("crawler.items", len(c.Result())))
	}
	return err
}

func (c *Crawler) run(ctx context.Context) error {
	run := RunInfo{Level: c.level, OutputDir: c.outputDir, StartedAt: c.clock.Now()}
	if id, err := c.ids.NewRunID(); err != nil {
		c.logger.Warn("run id unavailable", zap.Error(err))
	} else {
		run.ID = id
	}
	logger := c.logger.With(zap.String("run_id", uuid.String(run.ID)))
	c.emit(run, progress.Event{Stage: progress.StageRunStart})
	logger.Info("crawl started", zap.String("base_url", c.baseURL), zap.Int("workers", c.workers))

	if c.cancelled(ctx) {
		return c.finishCancelled(run, logger)
	}

	urls, err := c.discover(ctx, logger)
	if err != nil {
		c.emit(run, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		logger.Error("discovery failed", zap.Error(err))
		return err
	}

	patterns, ok := c.list(ctx, run, urls, logger)
	if !ok {
		return c.finishCancelled(run, logger)
	}
	patterns = orderPatterns(patterns, logger)

	queue := memory.NewQueue[*grammar.Pattern](len(patterns))
	for _, p := range patterns {
		if err := queue.Enqueue(p); err != nil {
			return fmt.Errorf("enqueue pattern %d: %w", p.Num, err)
		}
	}
	queue.Close()
	if c.cancelled(ctx) {
		return c.finishCancelled(run, logger)
	}
	logger.Info("listing complete", zap.Int("pages", len(urls)), zap.Int("items", len(patterns)))

	pool := make([]*worker.Worker, 0, c.workers)
	for i := 0; i < c.workers; i++ {
		pool = append(pool, worker.New(queue, c.deps.Parser, c.signal, c.emitter, c.clock, worker.Config{
			Index:         i,
			ProgressEvery: c.progressEvery,
			RunID:         run.ID,
			Level:         c.level,
		}, logger.Named("worker")))
	}
	processed, err := dispatcher.New(queue, c.signal, pool, c.pollInterval, logger.Named("dispatcher")).Run(ctx)
	if err != nil {
		logger.Error("worker pool failed", zap.Error(err))
	}
	if c.cancelled(ctx) {
		logger.Info("enrichment interrupted", zap.Int("enriched", processed), zap.Int("remaining", queue.Len()))
		return c.finishCancelled(run, logger)
	}

	uri, err := c.deps.Exporter.Export(ctx, run, patterns)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistFailed, err)
		c.emit(run, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		logger.Error("saving results failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.result = patterns
	c.artifact = uri
	c.mu.Unlock()

	elapsed := c.clock.Now().Sub(run.StartedAt)
	c.emit(run, progress.Event{Stage: progress.StageRunDone, Items: len(patterns), URL: uri, Dur: elapsed})
	logger.Info("crawl finished",
		zap.Int("items", len(patterns)),
		zap.String("artifact", uri),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (c *Crawler) discover(ctx context.Context, logger *zap.Logger) ([]string, error) {
	index := IndexURL(c.baseURL, c.level)
	doc, err := c.deps.Fetcher.Fetch(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscoveryFailed, index, err)
	}
	urls, errs := listingURLs(c.baseURL, c.level, c.deps.Parser.PaginationURLs(doc))
	for _, e := range errs {
		logger.Warn("ignoring pagination link", zap.Error(e))
	}
	logger.Debug("index pages discovered", zap.Strings("urls", urls))
	return urls, nil
}

// list walks the index pages in order and parses their rows. It returns
// false when the run was cancelled part-way.
func (c *Crawler) list(ctx context.Context, run RunInfo, urls []string, logger *zap.Logger) ([]*grammar.Pattern, bool) {
	var patterns []*grammar.Pattern
	for _, pageURL := range urls {
		if c.cancelled(ctx) {
			return nil, false
		}
		doc, err := c.deps.Fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if c.cancelled(ctx) {
				return nil, false
			}
			logger.Warn("skipping index page", zap.String("url", pageURL), zap.Error(err))
			c.emit(run, progress.Event{Stage: progress.StagePageFailed, URL: pageURL, Note: err.Error()})
			continue
		}
		rows, err := c.deps.Parser.Rows(doc)
		if err != nil {
			logger.Warn("skipping index page", zap.String("url", pageURL), zap.Error(err))
			c.emit(run, progress.Event{Stage: progress.StagePageFailed, URL: pageURL, Note: err.Error()})
			continue
		}
		listed := 0
		for i, row := range rows {
			if c.cancelled(ctx) {
				return nil, false
			}
			p, err := c.deps.Parser.ParseRow(c.level, row)
			if err != nil {
				logger.Warn("skipping row", zap.String("url", pageURL), zap.Int("row", i), zap.Error(err))
				continue
			}
			logger.Debug("listed", zap.Stringer("pattern", p))
			patterns = append(patterns, p)
			listed++
		}
		c.emit(run, progress.Event{Stage: progress.StagePageListed, URL: pageURL, Items: listed})
	}
	return patterns, true
}

// orderPatterns sorts by ordinal, keeping page order for equal ordinals.
// Repeated detail URLs are kept and logged.
func orderPatterns(patterns []*grammar.Pattern, logger *zap.Logger) []*grammar.Pattern {
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Num < patterns[j].Num
	})
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if _, dup := seen[p.PageURL]; dup {
			logger.Warn("duplicate detail page", zap.Int("num", p.Num), zap.String("url", p.PageURL))
			continue
		}
		seen[p.PageURL] = struct{}{}
	}
	return patterns
}

func (c *Crawler) cancelled(ctx context.Context) bool {
	return c.signal.Stopped() || ctx.Err() != nil
}

func (c *Crawler) finishCancelled(run RunInfo, logger *zap.Logger) error {
	c.signal.Stop()
	c.emit(run, progress.Event{Stage: progress.StageRunCancelled, Dur: c.clock.Now().Sub(run.StartedAt)})
	logger.Info("crawl cancelled, nothing written")
	return ErrCancelled
}

func (c *Crawler) emit(run RunInfo, evt progress.Event) {
	evt.RunID = run.ID
	evt.Level = int(run.Level)
	if evt.TS.IsZero() {
		evt.TS = c.clock.Now()
	}
	c.emitter.Emit(evt)
}

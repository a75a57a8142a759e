// Package app wires configuration into long-lived services and runs crawls
// level by level. It is the composition root shared by the CLI and tests.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/config"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/crawler"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/jlpt-grammar-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/metrics"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/parser"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/jlpt-grammar-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/storage/gcs"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/storage/postgres"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/telemetry"
)

// Outcome summarizes one finished level.
type Outcome struct {
	Level    grammar.Level
	Items    int
	Artifact string
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds the services shared by every crawl of one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	emitter  progress.Emitter
	fetcher  *collyfetcher.Fetcher
	parser   *parser.Parser
	exporter *export.Exporter
	closers  []closer

	mu      sync.Mutex
	current *crawler.Crawler
	stopped bool
}

// New builds the App. Optional services (metrics endpoint, GCS mirror,
// Postgres copy, Pub/Sub notice, tracing) start only when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: metrics.NewRegistry(), emitter: progress.Discard{}}
	ready := false
	defer func() {
		if !ready {
			a.Close(context.Background())
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracing", shutdownTracing)

	if err := a.initProgress(); err != nil {
		return nil, err
	}
	if err := a.initMetricsServer(); err != nil {
		return nil, err
	}

	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
	}, logger.Named("fetcher"))
	a.parser, err = parser.New(a.fetcher, cfg.Crawler.BaseURL, logger.Named("parser"))
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}

	opts, err := a.exportOptions(ctx)
	if err != nil {
		return nil, err
	}
	a.exporter = export.New(export.Config{
		Indent: cfg.Output.Indent,
		Topic:  cfg.PubSub.Topic,
	}, logger.Named("export"), opts...)

	ready = true
	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initProgress() error {
	if !a.cfg.Progress.Enabled {
		return nil
	}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEnabled {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.ProgressMaxWait(),
		Logger:         a.logger.Named("progress"),
	}, hubSinks...)
	a.emitter = hub
	a.addCloser("progress hub", hub.Close)
	return nil
}

func (a *App) initMetricsServer() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	handler, err := metrics.NewHandler(a.registry)
	if err != nil {
		return err
	}
	srv, err := metrics.Start(a.cfg.Metrics.Addr, handler, a.logger.Named("metrics"))
	if err != nil {
		return err
	}
	a.addCloser("metrics server", srv.Shutdown)
	return nil
}

func (a *App) exportOptions(ctx context.Context) ([]export.Option, error) {
	var opts []export.Option

	if bucket := a.cfg.Storage.GCSBucket; bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs client", func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		opts = append(opts, export.WithMirror(store))
		a.logger.Info("artifact mirror enabled", zap.String("bucket", bucket))
	}

	if dsn := a.cfg.Database.DSN; dsn != "" {
		store, err := postgres.NewPatternStore(ctx, postgres.Config{
			DSN:             dsn,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init pattern store: %w", err)
		}
		a.addCloser("pattern store", func(context.Context) error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, export.WithPatternStore(store))
		a.logger.Info("pattern store enabled", zap.String("table", a.cfg.Database.Table))
	}

	if a.cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.addCloser("pubsub client", func(context.Context) error { return client.Close() })
		topic := client.Publisher(a.cfg.PubSub.Topic)
		a.addCloser("pubsub publisher", func(context.Context) error { topic.Stop(); return nil })
		opts = append(opts, export.WithPublisher(pubsubpublisher.New(topic)))
		a.logger.Info("completion notices enabled", zap.String("topic", a.cfg.PubSub.Topic))
	}

	return opts, nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Registry exposes the Prometheus registry the progress sink writes to.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// NewCrawler builds a Crawler for level sharing the App's services.
// Non-positive workers fall back to the configured pool size.
func (a *App) NewCrawler(level grammar.Level, outputDir string, workers int) (*crawler.Crawler, error) {
	if workers <= 0 {
		workers = a.cfg.Crawler.Workers
	}
	if outputDir == "" {
		outputDir = a.cfg.Output.Dir
	}
	return crawler.New(level, outputDir, crawler.Deps{
		Fetcher:  a.fetcher,
		Parser:   a.parser,
		Exporter: a.exporter,
	},
		crawler.WithBaseURL(a.cfg.Crawler.BaseURL),
		crawler.WithWorkers(workers),
		crawler.WithProgressEvery(a.cfg.Crawler.ProgressEvery),
		crawler.WithPollInterval(a.cfg.Crawler.JoinPollInterval),
		crawler.WithEmitter(a.emitter),
		crawler.WithLogger(a.logger.Named("crawler")),
	)
}

// Run crawls levels in order. A failed level is logged and the next one
// still runs; a cancelled level ends the sequence with crawler.ErrCancelled.
func (a *App) Run(ctx context.Context, levels []grammar.Level, outputDir string, workers int) ([]Outcome, error) {
	var (
		outcomes []Outcome
		errs     []error
	)
	for _, level := range levels {
		c, err := a.NewCrawler(level, outputDir, workers)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !a.track(c) {
			return outcomes, crawler.ErrCancelled
		}
		err = c.Run(ctx)
		a.track(nil)
		switch {
		case errors.Is(err, crawler.ErrCancelled):
			return outcomes, errors.Join(append(errs, err)...)
		case err != nil:
			a.logger.Error("level failed", zap.String("level", level.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", level, err))
		default:
			outcomes = append(outcomes, Outcome{Level: level, Items: len(c.Result()), Artifact: c.Artifact()})
		}
	}
	return outcomes, errors.Join(errs...)
}

// track records the running crawler. It returns false when Stop was called
// before c could start; c is stopped in that case.
func (a *App) track(c *crawler.Crawler) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c != nil && a.stopped {
		c.Stop()
		return false
	}
	a.current = c
	return true
}

// Stop cancels the running level and prevents later ones from starting.
// Safe to call from a signal handler goroutine.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.current != nil {
		a.current.Stop()
	}
}

// Close shuts services down in reverse start order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

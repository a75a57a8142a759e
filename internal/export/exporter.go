// Package export persists the result set of a crawl run. The JSON artifact
// is always written to the local output directory; GCS, Postgres and Pub/Sub
// are optional mirrors whose failures are logged and never fail the run.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/clock/system"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/crawler"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/hash/sha256"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/id/uuid"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/storage/local"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/telemetry"
)

const contentType = "application/json"

// BlobStore stores artifact bytes and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// PatternStore keeps a relational copy of the patterns.
type PatternStore interface {
	UpsertPatterns(ctx context.Context, runID [16]byte, crawledAt time.Time, patterns []*grammar.Pattern) error
}

// Publisher sends the completion notice.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notice is published after an artifact has been saved.
type Notice struct {
	RunID      string    `json:"run_id"`
	Level      int       `json:"level"`
	Items      int       `json:"items"`
	URI        string    `json:"uri"`
	MirrorURI  string    `json:"mirror_uri,omitempty"`
	SHA256     string    `json:"sha256"`
	Bytes      int       `json:"bytes"`
	FinishedAt time.Time `json:"finished_at"`
}

// Config controls the artifact encoding and the mirror targets.
type Config struct {
	Indent string
	Topic  string
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithMirror uploads a copy of every artifact to store.
func WithMirror(store BlobStore) Option {
	return func(e *Exporter) { e.mirror = store }
}

// WithPatternStore upserts every saved pattern into store.
func WithPatternStore(store PatternStore) Option {
	return func(e *Exporter) { e.patterns = store }
}

// WithPublisher publishes a Notice after each save.
func WithPublisher(pub Publisher) Option {
	return func(e *Exporter) { e.publisher = pub }
}

// WithClock injects the time source used for notices and rows.
func WithClock(clock crawler.Clock) Option {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Exporter implements crawler.Exporter.
type Exporter struct {
	cfg       Config
	mirror    BlobStore
	patterns  PatternStore
	publisher Publisher
	hasher    *sha256.Hasher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New builds an Exporter. An empty indent falls back to grammar.DefaultIndent.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Exporter {
	if cfg.Indent == "" {
		cfg.Indent = grammar.DefaultIndent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		cfg:    cfg,
		hasher: sha256.New(),
		clock:  system.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the artifact name for level.
func FileName(level grammar.Level) string {
	return fmt.Sprintf("grammar-n%d.json", int(level))
}

// Export writes patterns to <run.OutputDir>/grammar-n<level>.json and feeds
// the configured mirrors. Only a failure of the local write is returned.
func (e *Exporter) Export(ctx context.Context, run crawler.RunInfo, patterns []*grammar.Pattern) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "grammar.export")
	defer span.End()

	data, err := grammar.Encode(patterns, e.cfg.Indent)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	store, err := local.New(local.Config{BaseDir: run.OutputDir})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("open output directory: %w", err)
	}
	name := FileName(run.Level)
	uri, err := store.PutObject(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("write %s: %w", name, err)
	}

	sum := e.hasher.Sum(data)
	now := e.clock.Now()
	span.SetAttributes(
		attribute.String("artifact.uri", uri),
		attribute.Int("artifact.bytes", len(data)),
		attribute.Int("crawler.items", len(patterns)),
	)
	logger := e.logger.With(
		zap.String("run_id", uuid.String(run.ID)),
		zap.String("level", run.Level.String()),
	)
	logger.Info("results saved",
		zap.String("uri", uri),
		zap.Int("items", len(patterns)),
		zap.Int("bytes", len(data)),
		zap.String("sha256", sum),
	)

	notice := Notice{
		RunID:      uuid.String(run.ID),
		Level:      int(run.Level),
		Items:      len(patterns),
		URI:        uri,
		SHA256:     sum,
		Bytes:      len(data),
		FinishedAt: now,
	}

	if e.mirror != nil {
		mirrorURI, err := e.mirror.PutObject(ctx, name, contentType, bytes.NewReader(data))
		if err != nil {
			logger.Warn("artifact mirror failed", zap.Error(err))
		} else {
			notice.MirrorURI = mirrorURI
			logger.Info("artifact mirrored", zap.String("uri", mirrorURI))
		}
	}

	if e.patterns != nil {
		if err := e.patterns.UpsertPatterns(ctx, run.ID, now, patterns); err != nil {
			logger.Warn("pattern upsert failed", zap.Error(err))
		} else {
			logger.Info("patterns upserted", zap.Int("rows", len(patterns)))
		}
	}

	if e.publisher != nil {
		id, err := e.publisher.Publish(ctx, e.cfg.Topic, notice)
		if err != nil {
			logger.Warn("completion notice failed", zap.Error(err))
		} else {
			logger.Debug("completion notice published", zap.String("message_id", id))
		}
	}

	return uri, nil
}

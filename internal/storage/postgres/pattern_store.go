// Package postgres keeps a relational copy of crawled grammar patterns.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
)

const defaultTable = "grammar_patterns"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PatternStore upserts grammar patterns keyed by level and lesson URL.
type PatternStore struct {
	pool  pool
	table string
}

// NewPatternStore connects to Postgres using cfg.
func NewPatternStore(ctx context.Context, cfg Config) (*PatternStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPatternStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPatternStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPatternStoreWithPool(p pool, table string) (*PatternStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PatternStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PatternStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the pattern table when it does not exist.
func (s *PatternStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	level          SMALLINT    NOT NULL,
	page_url       TEXT        NOT NULL,
	num            INTEGER     NOT NULL,
	eng            TEXT        NOT NULL,
	jap            TEXT        NOT NULL,
	meaning        TEXT        NOT NULL,
	usage          TEXT,
	notes          TEXT,
	flashcard_url  TEXT,
	examples       JSONB       NOT NULL DEFAULT '[]',
	run_id         UUID        NOT NULL,
	crawled_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (level, page_url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

type exampleRow struct {
	Main    string `json:"main"`
	Furi    string `json:"furi"`
	Meaning string `json:"meaning"`
}

// UpsertPatterns writes every pattern of one run in a single transaction.
func (s *PatternStore) UpsertPatterns(
	ctx context.Context,
	runID [16]byte,
	crawledAt time.Time,
	patterns []*grammar.Pattern,
) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pattern store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	level, page_url, num, eng, jap, meaning,
	usage, notes, flashcard_url, examples, run_id, crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (level, page_url) DO UPDATE SET
	num = EXCLUDED.num,
	eng = EXCLUDED.eng,
	jap = EXCLUDED.jap,
	meaning = EXCLUDED.meaning,
	usage = EXCLUDED.usage,
	notes = EXCLUDED.notes,
	flashcard_url = EXCLUDED.flashcard_url,
	examples = EXCLUDED.examples,
	run_id = EXCLUDED.run_id,
	crawled_at = EXCLUDED.crawled_at`, s.table)

	run := uuid.UUID(runID).String()
	for _, p := range patterns {
		if p == nil {
			continue
		}
		examples, mErr := marshalExamples(p.Examples)
		if mErr != nil {
			return fmt.Errorf("pattern %d: %w", p.Num, mErr)
		}
		if _, err = tx.Exec(ctx, query,
			int(p.Level),
			p.PageURL,
			p.Num,
			p.Eng,
			p.Jap,
			p.Meaning,
			p.Usage,
			p.Notes,
			p.FlashcardURL,
			examples,
			run,
			crawledAt,
		); err != nil {
			return fmt.Errorf("upsert pattern %d: %w", p.Num, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func marshalExamples(examples []grammar.Example) ([]byte, error) {
	rows := make([]exampleRow, 0, len(examples))
	for _, ex := range examples {
		rows = append(rows, exampleRow(ex))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return nil, fmt.Errorf("marshal examples: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

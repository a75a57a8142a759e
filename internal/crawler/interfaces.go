package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
)

// Fetcher retrieves a URL and returns the parsed document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*goquery.Document, error)
}

// Parser extracts grammar patterns from listing and detail pages. The
// coordinator never inspects documents itself.
type Parser interface {
	// PaginationURLs returns the index page links found on the first index page.
	PaginationURLs(doc *goquery.Document) []string
	// Rows returns the grammar rows of one index page.
	Rows(doc *goquery.Document) ([]*goquery.Selection, error)
	// ParseRow builds a pattern from one row or fails with ErrRowParseFailed.
	ParseRow(level grammar.Level, row *goquery.Selection) (*grammar.Pattern, error)
	// Enrich fetches the pattern's detail page and fills the detail fields in place.
	Enrich(ctx context.Context, p *grammar.Pattern)
}

// Exporter persists the ordered result set of a finished run.
type Exporter interface {
	Export(ctx context.Context, run RunInfo, patterns []*grammar.Pattern) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() ([16]byte, error)
}

// RunInfo identifies one crawl run.
type RunInfo struct {
	ID        [16]byte
	Level     grammar.Level
	OutputDir string
	StartedAt time.Time
}

// Package parser extracts grammar patterns from jlptsensei.com listing and
// lesson pages.
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/crawler"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/telemetry"
)

// Selectors for the site markup.
const (
	selPagination = "nav.pagination-wrap a.page-numbers"
	selTable      = "#jl-grammar"
	selRow        = "tr.jl-row"
	selNum        = "td.jl-td-num"
	selLink       = "a.jl-link"
	selEng        = "td.jl-td-gr"
	selJap        = "td.jl-td-gj"
	selMeaning    = "td.jl-td-gm"

	selUsage       = "table.usage"
	selFlashcard   = "#header-image"
	selNotes       = "div.grammar-notes"
	selExample     = "div.example-cont"
	selExampleMain = "div.example-main"
	selExampleFuri = "div.alert-success"
	selExampleMean = "div.alert-primary"
)

// Parser implements crawler.Parser for jlptsensei.com.
type Parser struct {
	fetcher crawler.Fetcher
	base    *url.URL
	logger  *zap.Logger
}

// New returns a Parser that fetches lesson pages through fetcher and
// resolves relative links against baseURL.
func New(fetcher crawler.Fetcher, baseURL string, logger *zap.Logger) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{fetcher: fetcher, base: base, logger: logger}, nil
}

// PaginationURLs returns the hrefs of the pagination nav. A single-page list
// has no nav and yields nil.
func (p *Parser) PaginationURLs(doc *goquery.Document) []string {
	var out []string
	doc.Find(selPagination).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out = append(out, strings.TrimSpace(href))
		}
	})
	return out
}

// Rows returns the grammar rows of a listing page.
func (p *Parser) Rows(doc *goquery.Document) ([]*goquery.Selection, error) {
	table := doc.Find(selTable).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: grammar table %s not found", crawler.ErrPageFetchFailed, selTable)
	}
	var rows []*goquery.Selection
	table.Find(selRow).Each(func(_ int, s *goquery.Selection) {
		rows = append(rows, s)
	})
	return rows, nil
}

// ParseRow builds an unenriched pattern from one listing row.
func (p *Parser) ParseRow(level grammar.Level, row *goquery.Selection) (*grammar.Pattern, error) {
	numText, err := cellText(row, selNum)
	if err != nil {
		return nil, err
	}
	num, err := strconv.Atoi(numText)
	if err != nil {
		return nil, fmt.Errorf("%w: ordinal %q: %w", crawler.ErrRowParseFailed, numText, err)
	}
	href, ok := row.Find(selLink).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, fmt.Errorf("%w: row %d has no %s href", crawler.ErrRowParseFailed, num, selLink)
	}
	pageURL, err := p.resolve(href)
	if err != nil {
		return nil, fmt.Errorf("%w: row %d: %w", crawler.ErrRowParseFailed, num, err)
	}
	eng, err := cellText(row, selEng)
	if err != nil {
		return nil, err
	}
	jap, err := cellText(row, selJap)
	if err != nil {
		return nil, err
	}
	meaning, err := cellText(row, selMeaning)
	if err != nil {
		return nil, err
	}
	return &grammar.Pattern{
		Level:   level,
		PageURL: pageURL,
		Num:     num,
		Eng:     eng,
		Jap:     jap,
		Meaning: meaning,
	}, nil
}

// Enrich fetches the lesson page of pat and fills usage, flashcard, notes
// and examples. Each field is extracted independently; a missing one is
// logged and left unset. When the page cannot be fetched every field stays
// unset.
func (p *Parser) Enrich(ctx context.Context, pat *grammar.Pattern) {
	ctx, span := telemetry.Tracer().Start(ctx, "grammar.enrich")
	defer span.End()
	span.SetAttributes(attribute.Int("grammar.num", pat.Num), attribute.String("url.full", pat.PageURL))

	logger := p.logger.With(
		zap.String("level", pat.Level.String()),
		zap.Int("num", pat.Num),
		zap.String("eng", pat.Eng),
	)
	doc, err := p.fetcher.Fetch(ctx, pat.PageURL)
	if err != nil {
		logger.Warn("lesson page unavailable", zap.String("url", pat.PageURL), zap.Error(err))
		span.RecordError(err)
		return
	}

	if usage, err := outerHTML(doc.Selection, selUsage); err != nil {
		logFieldFailure(logger, "usage", err)
	} else {
		pat.Usage = &usage
	}

	if src, ok := doc.Find(selFlashcard).First().Attr("src"); ok {
		pat.FlashcardURL = grammar.StringPtr(src)
	} else {
		logFieldFailure(logger, "flashcard", fmt.Errorf("%s has no src", selFlashcard))
	}

	if notes, err := outerHTML(doc.Selection, selNotes); err != nil {
		logFieldFailure(logger, "notes", err)
	} else {
		pat.Notes = &notes
	}

	pat.Examples = p.examples(doc, logger)
}

func (p *Parser) examples(doc *goquery.Document, logger *zap.Logger) []grammar.Example {
	out := []grammar.Example{}
	doc.Find(selExample).Each(func(i int, s *goquery.Selection) {
		ex := grammar.Example{}
		var missing []string
		for _, part := range []struct {
			sel  string
			dest *string
		}{
			{selExampleMain, &ex.Main},
			{selExampleFuri, &ex.Furi},
			{selExampleMean, &ex.Meaning},
		} {
			markup, err := outerHTML(s, part.sel)
			if err != nil {
				*part.dest = grammar.None
				missing = append(missing, part.sel)
				continue
			}
			*part.dest = markup
		}
		if len(missing) > 0 {
			logger.Debug("example incomplete", zap.Int("example", i+1), zap.Strings("missing", missing))
		}
		out = append(out, ex)
	})
	return out
}

func (p *Parser) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return p.base.ResolveReference(ref).String(), nil
}

var errNotFound = errors.New("element not found")

func cellText(row *goquery.Selection, sel string) (string, error) {
	cell := row.Find(sel).First()
	if cell.Length() == 0 {
		return "", fmt.Errorf("%w: %s: %w", crawler.ErrRowParseFailed, sel, errNotFound)
	}
	return strings.TrimSpace(cell.Text()), nil
}

func outerHTML(scope *goquery.Selection, sel string) (string, error) {
	node := scope.Find(sel).First()
	if node.Length() == 0 {
		return "", fmt.Errorf("%s: %w", sel, errNotFound)
	}
	markup, err := goquery.OuterHtml(node)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", sel, err)
	}
	return markup, nil
}

func logFieldFailure(logger *zap.Logger, field string, err error) {
	logger.Warn("field not extracted",
		zap.String("field", field),
		zap.Error(fmt.Errorf("%w: %w", crawler.ErrFieldEnrichmentFailed, err)),
	)
}

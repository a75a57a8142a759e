package crawler

import "errors"

// Failure classes. Run only ever returns ErrInvalidLevel, ErrDiscoveryFailed,
// ErrPersistFailed or ErrCancelled (possibly wrapped); the others are logged
// and contained where they happen.
var (
	// ErrInvalidLevel is returned by New for levels outside 1..5.
	ErrInvalidLevel = errors.New("invalid jlpt level")
	// ErrDiscoveryFailed means the level index page could not be fetched.
	ErrDiscoveryFailed = errors.New("discovery failed")
	// ErrPageFetchFailed marks a single page that could not be retrieved or parsed.
	ErrPageFetchFailed = errors.New("page fetch failed")
	// ErrRowParseFailed marks a listing row that did not have the expected shape.
	ErrRowParseFailed = errors.New("row parse failed")
	// ErrFieldEnrichmentFailed marks one detail field that could not be extracted.
	ErrFieldEnrichmentFailed = errors.New("field enrichment failed")
	// ErrPersistFailed means the primary artifact could not be written.
	ErrPersistFailed = errors.New("persist failed")
	// ErrCancelled means Stop was called before the run completed. No output is written.
	ErrCancelled = errors.New("crawl cancelled")
)

// Package crawler coordinates a single-level grammar crawl: it discovers the
// paginated index, lists every row into a pattern, hands the patterns to a
// worker pool for detail enrichment and persists the ordered result. It also
// owns the error taxonomy and the cooperative stop signal shared with the
// workers.
package crawler

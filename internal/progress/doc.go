// Package progress carries crawl milestones from the coordinator and the
// workers to pluggable sinks. Emit never blocks; a background goroutine
// batches events and hands them to sinks such as the zap log sink or the
// Prometheus collectors.
package progress

package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures a full run is reflected in the collectors.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	page := "https://jlptsensei.com/jlpt-n2-grammar-list/page/1/"
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Level: 2},
		{RunID: runID, TS: now, Stage: progress.StagePageListed, Level: 2, URL: page, Items: 3},
		{RunID: runID, TS: now, Stage: progress.StagePageFailed, Level: 2, URL: page + "x"},
		{RunID: runID, TS: now, Stage: progress.StageHeartbeat, Level: 2, Remaining: 20},
		{
			RunID: runID, TS: now, Stage: progress.StageItemEnriched, Level: 2,
			URL: "https://jlptsensei.com/learn-japanese-grammar/a/", Num: 1, Dur: 300 * time.Millisecond,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsActive), 1e-9)
	require.InDelta(t, 20.0, testutil.ToFloat64(sink.queueDepth.WithLabelValues("2")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.rowsListed.WithLabelValues("2")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pagesListed.WithLabelValues("2", "failed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.itemsEnriched.WithLabelValues("2")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.enrichTime, "grammar_crawler_enrich_duration_seconds"))

	done := progress.Event{RunID: runID, TS: now, Stage: progress.StageRunDone, Level: 2, Dur: 40 * time.Second}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done, done}))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("2")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("2", "success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsActive), 1e-9, "a run is only retired once")
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.queueDepth.WithLabelValues("2")), 1e-9)
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Level: 1},
		{RunID: runID, TS: now, Stage: progress.StageHeartbeat, Level: 1, Remaining: 10},
		{RunID: runID, TS: now, Stage: progress.StagePageFailed, Level: 1, URL: "https://example.com", Note: "boom"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, zap.DebugLevel, entries[1].Level)
	require.EqualValues(t, 10, entries[1].ContextMap()["remaining"])
	require.Equal(t, zap.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
	require.Equal(t, uuid.UUID(runID).String(), entries[0].ContextMap()["run_id"])
}

package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Heartbeats and item events go to
// debug so that a default run only shows run and page milestones.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("level", evt.Level),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Num != 0 {
			fields = append(fields, zap.Int("num", evt.Num))
		}
		if evt.Items != 0 {
			fields = append(fields, zap.Int("items", evt.Items))
		}
		if evt.Stage == progress.StageHeartbeat {
			fields = append(fields, zap.Int("remaining", evt.Remaining))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageItemEnriched, progress.StageHeartbeat:
			s.logger.Debug("progress event", fields...)
		case progress.StagePageFailed, progress.StageRunError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

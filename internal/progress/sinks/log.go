package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/progress"
)

// LogSink writes one structured log line per job event.
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

// Consume logs each event in the batch. Terminal stages log at Info, the
// rest at Debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.Int64("owner_id", evt.OwnerID),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Status)),
			zap.Int("total_pages", evt.TotalPages),
			zap.Int("scraped_pages", evt.ScrapedPages),
			zap.Int("failed_pages", evt.FailedPages),
		}
		if evt.Previous != "" {
			fields = append(fields, zap.String("previous", string(evt.Previous)))
		}
		if evt.Stage.Terminal() || evt.Stage == progress.StageSubmitted {
			s.logger.Info("job event", fields...)
			continue
		}
		s.logger.Debug("job event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

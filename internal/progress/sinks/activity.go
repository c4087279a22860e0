package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/progress"
)

// Audit actions recorded for terminal job events.
const (
	ActionScrapeCompleted = "scrape_completed"
	ActionScrapeFailed    = "scrape_failed"
)

// ActivitySink appends an audit row for every job that finishes. Non-terminal
// events are ignored; scrape_started is recorded by the submitter itself.
type ActivitySink struct {
	log core.ActivityLog
}

// NewActivitySink wraps an activity log.
func NewActivitySink(log core.ActivityLog) (*ActivitySink, error) {
	if log == nil {
		return nil, errors.New("activity log is required")
	}
	return &ActivitySink{log: log}, nil
}

// Consume records terminal events. Every row is attempted; the errors are joined.
func (s *ActivitySink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		action, ok := actionFor(evt.Stage)
		if !ok {
			continue
		}
		err := s.log.Record(ctx, core.Activity{
			UserID:  evt.OwnerID,
			Action:  action,
			Details: evt.SourceURL,
			At:      evt.TS,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s for job %s: %w", action, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *ActivitySink) Close(context.Context) error {
	return nil
}

func actionFor(stage progress.Stage) (string, bool) {
	switch stage {
	case progress.StageCompleted:
		return ActionScrapeCompleted, true
	case progress.StageFailed:
		return ActionScrapeFailed, true
	default:
		return "", false
	}
}

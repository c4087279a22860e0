package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/askmaven/internal/core"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageSubmitted Stage = "JOB_SUBMITTED"
	StageProgress  Stage = "JOB_PROGRESS"
	StageCompleted Stage = "JOB_COMPLETED"
	StageFailed    Stage = "JOB_FAILED"
)

// Terminal reports whether the stage ends a job's lifecycle.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Event is a snapshot of one job at a lifecycle milestone.
type Event struct {
	JobID     string
	OwnerID   int64
	SourceURL string
	TS        time.Time
	Stage     Stage
	Status    core.JobStatus
	// Previous is the status before this event; empty for StageSubmitted.
	Previous     core.JobStatus
	TotalPages   int
	ScrapedPages int
	FailedPages  int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSubmitted, StageProgress, StageCompleted, StageFailed:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// Submitted builds the event for a freshly accepted job.
func Submitted(job core.JobRecord, ts time.Time) Event {
	return snapshot(job, StageSubmitted, "", ts)
}

// Transition compares a job before and after reconciliation. ok is false when
// nothing the dashboard displays has changed.
func Transition(before, after core.JobRecord, ts time.Time) (evt Event, ok bool) {
	if before.Status == after.Status &&
		before.TotalPages == after.TotalPages &&
		before.ScrapedPages == after.ScrapedPages &&
		before.FailedPages == after.FailedPages {
		return Event{}, false
	}
	stage := StageProgress
	if after.Status != before.Status {
		switch after.Status {
		case core.JobStatusCompleted:
			stage = StageCompleted
		case core.JobStatusFailed:
			stage = StageFailed
		}
	}
	return snapshot(after, stage, before.Status, ts), true
}

func snapshot(job core.JobRecord, stage Stage, prev core.JobStatus, ts time.Time) Event {
	return Event{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		SourceURL:    job.SourceURL,
		TS:           ts,
		Stage:        stage,
		Status:       job.Status,
		Previous:     prev,
		TotalPages:   job.TotalPages,
		ScrapedPages: job.ScrapedPages,
		FailedPages:  job.FailedPages,
	}
}

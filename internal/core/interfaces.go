package core

import (
	"context"
	"time"
)

// JobStore persists JobRecords. Lookups outside the given scope return
// ErrNotFound so job existence never leaks across owners.
type JobStore interface {
	CreateJob(ctx context.Context, job JobRecord) error
	GetJob(ctx context.Context, jobID string, scope Scope) (JobRecord, error)
	SaveProgress(ctx context.Context, jobID string, status RemoteJobStatus) error
	ListJobs(ctx context.Context, scope Scope) ([]JobRecord, error)
	ListActiveJobs(ctx context.Context, limit int) ([]JobRecord, error)
}

// HistoryStore keeps question/answer exchanges for display.
type HistoryStore interface {
	AppendChat(ctx context.Context, entry ChatEntry) error
	RecentChats(ctx context.Context, askerID int64, limit int) ([]ChatEntry, error)
}

// ActivityLog records user-triggered actions for auditing.
type ActivityLog interface {
	Record(ctx context.Context, activity Activity) error
}

// StatsCache holds the last aggregate stats payload from the remote worker.
type StatsCache interface {
	Get(ctx context.Context) (map[string]any, bool, error)
	Set(ctx context.Context, stats map[string]any) error
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Reconciler refreshes one job from the remote worker.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID string, caller Identity) (JobRecord, error)
}

// Queue provides enqueue/dequeue semantics for reconcile requests.
type Queue interface {
	Enqueue(ctx context.Context, req ReconcileRequest) error
	Dequeue(ctx context.Context) (ReconcileRequest, error)
}

package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/progress"
)

const (
	opReconcile = "jobs.reconcile"
	opList      = "jobs.list"
)

// StatusFetcher is the slice of the remote client the Reconciler needs.
type StatusFetcher interface {
	ScrapingStatus(ctx context.Context, remoteJobID string) (core.RemoteJobStatus, error)
}

// Reconciler refreshes local job records from the remote worker. The worker
// is authoritative: reported values overwrite local ones verbatim.
type Reconciler struct {
	remote StatusFetcher
	store  core.JobStore
	events progress.Emitter
	clock  core.Clock
	logger *zap.Logger
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerEvents emits an event whenever a reconciliation changes a
// job's status or counters. clock stamps the events.
func WithReconcilerEvents(e progress.Emitter, clock core.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		r.events = e
		r.clock = clock
	}
}

// NewReconciler wires a Reconciler.
func NewReconciler(rc StatusFetcher, store core.JobStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{remote: rc, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile loads jobID within the caller's scope and folds the remote
// worker's current status into it. Jobs the caller may not see are reported
// as not found. When the worker cannot be reached the stored record is
// returned unchanged so the dashboard keeps rendering.
func (r *Reconciler) Reconcile(ctx context.Context, jobID string, caller core.Identity) (core.JobRecord, error) {
	job, err := r.load(ctx, jobID, caller.Scope())
	if err != nil {
		return core.JobRecord{}, err
	}

	st, err := r.remote.ScrapingStatus(ctx, job.RemoteID)
	if err != nil {
		metrics.ObserveReconcile("degraded")
		r.logger.Warn("remote status unavailable; serving stored record",
			zap.String("job_id", job.ID),
			zap.String("remote_id", job.RemoteID),
			zap.Error(err),
		)
		return job, nil
	}

	updated := job.Apply(st)
	if !updated.CountersConsistent() {
		metrics.ObserveReconcile("inconsistent")
		r.logger.Warn("remote counters exceed total; accepting as reported",
			zap.String("job_id", job.ID),
			zap.Int("total_pages", st.TotalPages),
			zap.Int("scraped_pages", st.ScrapedPages),
			zap.Int("failed_pages", st.FailedPages),
		)
	}

	if err := r.store.SaveProgress(ctx, job.ID, st); err != nil {
		metrics.ObserveReconcile("persist_error")
		r.logger.Error("persist reconciled status failed; serving stored record",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return job, nil
	}
	metrics.ObserveReconcile("updated")
	r.logger.Debug("job reconciled",
		zap.String("job_id", job.ID),
		zap.String("status", string(updated.Status)),
		zap.Int("scraped_pages", updated.ScrapedPages),
		zap.Int("total_pages", updated.TotalPages),
	)
	if r.events != nil && r.clock != nil {
		if evt, ok := progress.Transition(job, updated, r.clock.Now()); ok {
			r.events.Emit(evt)
		}
	}
	return updated, nil
}

// List returns the jobs visible to caller, newest first.
func (r *Reconciler) List(ctx context.Context, caller core.Identity) ([]core.JobRecord, error) {
	jobs, err := r.store.ListJobs(ctx, caller.Scope())
	if err != nil {
		return nil, core.E(core.KindInternal, opList, "list jobs", err)
	}
	return jobs, nil
}

func (r *Reconciler) load(ctx context.Context, jobID string, scope core.Scope) (core.JobRecord, error) {
	if jobID == "" {
		return core.JobRecord{}, core.E(core.KindNotFound, opReconcile, "job not found", core.ErrNotFound)
	}
	job, err := r.store.GetJob(ctx, jobID, scope)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.JobRecord{}, core.E(core.KindNotFound, opReconcile, "job not found", err)
	case err != nil:
		return core.JobRecord{}, core.E(core.KindInternal, opReconcile, "load job", err)
	}
	return job, nil
}

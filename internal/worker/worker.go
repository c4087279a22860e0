// Package worker implements the background reconcile loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
)

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds one reconcile, including its remote retries.
	Timeout time.Duration
}

// Worker consumes reconcile requests and refreshes each job from the remote
// worker with system privileges.
type Worker struct {
	queue      core.Queue
	reconciler core.Reconciler
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(queue core.Queue, reconciler core.Reconciler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Worker{
		queue:      queue,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued reconcile", zap.String("job_id", item.JobID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item core.ReconcileRequest) {
	if w.reconciler == nil {
		w.logger.Error("no reconciler configured", zap.String("job_id", item.JobID))
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	job, err := w.reconciler.Reconcile(jobCtx, item.JobID, core.SystemIdentity())
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			w.logger.Info("reconcile skipped; job no longer exists", zap.String("job_id", item.JobID))
			return
		}
		w.logger.Error("reconcile failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("reconcile finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Duration("queued_for", time.Since(item.Enqueued)),
	)
}

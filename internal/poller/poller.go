// Package poller periodically enqueues non-terminal jobs for reconciliation
// so their progress keeps moving without a user refreshing the page.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
)

const (
	defaultSpec  = "@every 30s"
	defaultBatch = 100
)

// ActiveLister lists jobs that may still make progress.
type ActiveLister interface {
	ListActiveJobs(ctx context.Context, limit int) ([]core.JobRecord, error)
}

// Enqueuer accepts reconcile requests without blocking.
type Enqueuer interface {
	TryEnqueue(req core.ReconcileRequest) error
}

// Config controls the polling schedule.
type Config struct {
	// Spec is a robfig/cron schedule, e.g. "@every 30s".
	Spec string
	// Batch caps how many jobs one tick enqueues.
	Batch int
}

// Poller wraps robfig/cron and feeds the reconcile queue.
type Poller struct {
	cron   *cron.Cron
	store  ActiveLister
	queue  Enqueuer
	clock  core.Clock
	spec   string
	batch  int
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

// New creates a Poller. The schedule is validated immediately.
func New(store ActiveLister, queue Enqueuer, clock core.Clock, cfg Config, logger *zap.Logger) (*Poller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := cfg.Spec
	if spec == "" {
		spec = defaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse poller spec %q: %w", spec, err)
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	cronLogger := cronLogger{logger: logger.Sugar()}
	return &Poller{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		store:  store,
		queue:  queue,
		clock:  clock,
		spec:   spec,
		batch:  batch,
		logger: logger,
	}, nil
}

// Start registers the tick and starts the scheduler. ctx bounds every tick.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("poller already started")
	}
	if _, err := p.cron.AddFunc(p.spec, func() {
		if _, err := p.Tick(ctx); err != nil {
			p.logger.Warn("poll tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	p.cron.Start()
	p.started = true
	p.logger.Info("poller started", zap.String("spec", p.spec), zap.Int("batch", p.batch))
	return nil
}

// Stop halts the scheduler and waits for a running tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	<-p.cron.Stop().Done()
	p.started = false
	p.logger.Info("poller stopped")
}

// Tick enqueues up to Batch active jobs and returns how many were queued.
// When the queue fills up the rest of the batch is dropped until the next tick.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	jobs, err := p.store.ListActiveJobs(ctx, p.batch)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	queued := 0
	for i, job := range jobs {
		err := p.queue.TryEnqueue(core.ReconcileRequest{JobID: job.ID, Enqueued: p.clock.Now()})
		if err != nil {
			dropped := len(jobs) - i
			for n := 0; n < dropped; n++ {
				metrics.ObserveQueueDrop()
			}
			p.logger.Warn("reconcile queue full; dropping rest of tick",
				zap.Int("queued", queued),
				zap.Int("dropped", dropped),
				zap.Error(err),
			)
			break
		}
		queued++
	}
	if len(jobs) > 0 {
		p.logger.Debug("poll tick", zap.Int("active", len(jobs)), zap.Int("queued", queued))
	}
	return queued, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

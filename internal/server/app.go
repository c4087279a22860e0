// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/api"
	"github.com/JakeFAU/askmaven/internal/clock/system"
	"github.com/JakeFAU/askmaven/internal/config"
	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/dispatcher"
	"github.com/JakeFAU/askmaven/internal/id/uuid"
	"github.com/JakeFAU/askmaven/internal/jobs"
	"github.com/JakeFAU/askmaven/internal/logging"
	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/policy/ratelimit"
	"github.com/JakeFAU/askmaven/internal/poller"
	"github.com/JakeFAU/askmaven/internal/progress"
	"github.com/JakeFAU/askmaven/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/askmaven/internal/publisher/pubsub"
	"github.com/JakeFAU/askmaven/internal/query"
	queueMemory "github.com/JakeFAU/askmaven/internal/queue/memory"
	"github.com/JakeFAU/askmaven/internal/remote"
	"github.com/JakeFAU/askmaven/internal/stats"
	memoryStorage "github.com/JakeFAU/askmaven/internal/storage/memory"
	pgstore "github.com/JakeFAU/askmaven/internal/storage/postgres"
	redisstore "github.com/JakeFAU/askmaven/internal/storage/redis"
	"github.com/JakeFAU/askmaven/internal/telemetry"
	"github.com/JakeFAU/askmaven/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	remote     *remote.Client
	apiServer  *api.Server
	queue      *queueMemory.Queue
	dispatch   *dispatcher.Dispatcher
	poller     *poller.Poller
	submitter  *jobs.Submitter
	reconciler *jobs.Reconciler
	events     *progress.Hub
	publisher  *gcppublisher.Publisher

	pool   *pgxpool.Pool
	redis  *goredis.Client
	tracer *sdktrace.TracerProvider
}

type stores struct {
	jobs     core.JobStore
	history  core.HistoryStore
	activity core.ActivityLog
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("remote", cfg.Remote.BaseURL),
	)

	clock := system.New()
	ids := uuid.New()

	var err error
	if cfg.Telemetry.Enabled {
		app.tracer, err = telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			ProjectID:   cfg.Telemetry.ProjectID,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry init failed: %w", err)
		}
		logger.Info("tracing enabled",
			zap.String("service", cfg.Telemetry.ServiceName),
			zap.Bool("export", cfg.Telemetry.ProjectID != ""),
		)
	}

	app.remote, err = remote.New(remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		Timeout:       cfg.Remote.Timeout,
		MaxAttempts:   cfg.Remote.MaxAttempts,
		RetryDelay:    cfg.Remote.RetryDelay,
		HealthTimeout: cfg.Remote.HealthTimeout,
		UserAgent:     cfg.Remote.UserAgent,
	}, remote.WithClock(clock),
		remote.WithLogger(logger.Named("remote")),
		remote.WithHTTPClient(&http.Client{Transport: telemetry.Transport(nil)}),
	)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("remote client init failed: %w", err)
	}

	st, err := app.setupStores(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	cache, err := app.setupStatsCache(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	policy, err := jobs.ParseSubmitPolicy(cfg.Jobs.SubmitPolicy)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("jobs config: %w", err)
	}
	submitOpts := []jobs.SubmitterOption{
		jobs.WithLimiter(ratelimit.New(ratelimit.Config{
			RatePerSecond: cfg.Jobs.RatePerSecond,
			Burst:         cfg.Jobs.Burst,
		})),
		jobs.WithActivityLog(st.activity),
		jobs.WithSubmitPolicy(policy),
		jobs.WithSubmitterLogger(logger.Named("submit")),
	}
	reconcileOpts := []jobs.ReconcilerOption{
		jobs.WithReconcilerLogger(logger.Named("reconcile")),
	}
	if app.events, err = app.setupEvents(ctx, st.activity); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if app.events != nil {
		submitOpts = append(submitOpts, jobs.WithSubmitterEvents(app.events))
		reconcileOpts = append(reconcileOpts, jobs.WithReconcilerEvents(app.events, clock))
	}
	app.submitter = jobs.NewSubmitter(app.remote, st.jobs, ids, clock, submitOpts...)
	app.reconciler = jobs.NewReconciler(app.remote, st.jobs, reconcileOpts...)

	answerer := query.New(app.remote,
		query.WithHistory(st.history),
		query.WithContextLimit(cfg.Chat.ContextLimit),
		query.WithClock(clock),
		query.WithIDs(ids),
		query.WithLogger(logger.Named("query")),
	)
	statsSvc := stats.New(app.remote, cache, logger.Named("stats"))

	if err := app.setupBackground(st.jobs, clock); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.apiServer = api.NewServer(api.Services{
		Submitter: app.submitter,
		Tracker:   app.reconciler,
		Answerer:  answerer,
		Stats:     statsSvc,
		Ready:     app.ready,
	}, *cfg, logger.Named("api"))

	return app, nil
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory stores")
		return stores{
			jobs:     memoryStorage.NewJobStore(),
			history:  memoryStorage.NewHistoryStore(),
			activity: memoryStorage.NewActivityLog(),
		}, nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.DB.AutoMigrate {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return stores{}, fmt.Errorf("postgres schema init failed: %w", err)
		}
	}
	jobStore, err := pgstore.NewJobStore(pool)
	if err != nil {
		return stores{}, fmt.Errorf("job store init failed: %w", err)
	}
	history, err := pgstore.NewHistoryStore(pool)
	if err != nil {
		return stores{}, fmt.Errorf("history store init failed: %w", err)
	}
	activity, err := pgstore.NewActivityLog(pool)
	if err != nil {
		return stores{}, fmt.Errorf("activity log init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized", zap.Bool("auto_migrate", a.cfg.DB.AutoMigrate))
	return stores{jobs: jobStore, history: history, activity: activity}, nil
}

func (a *App) setupStatsCache(ctx context.Context) (core.StatsCache, error) {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("no redis URL configured, stats are not cached")
		return nil, nil
	}
	client, err := redisstore.NewClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.logger.Info("redis stats cache initialized",
		zap.String("key", a.cfg.Redis.StatsKey),
		zap.Duration("ttl", a.cfg.Stats.CacheTTL),
	)
	return redisstore.NewStatsCache(client, a.cfg.Redis.StatsKey, a.cfg.Stats.CacheTTL), nil
}

func (a *App) setupEvents(ctx context.Context, activity core.ActivityLog) (*progress.Hub, error) {
	ec := a.cfg.Events
	if !ec.Enabled {
		a.logger.Info("job events disabled")
		return nil, nil
	}
	hubSinks := []progress.Sink{sinks.NewMetricsSink()}
	if ec.Log {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("events")))
	}
	if ec.Audit {
		audit, err := sinks.NewActivitySink(activity)
		if err != nil {
			return nil, fmt.Errorf("activity sink init failed: %w", err)
		}
		hubSinks = append(hubSinks, audit)
	}
	if ec.PubSubTopic != "" {
		pub, err := gcppublisher.New(ctx, ec.PubSubProject, ec.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.publisher = pub
		publish, err := sinks.NewPublishSink(pub, ec.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("publish sink init failed: %w", err)
		}
		hubSinks = append(hubSinks, publish)
	}
	a.logger.Info("job events enabled",
		zap.Int("sinks", len(hubSinks)),
		zap.Int("batch_size", ec.BatchSize),
		zap.Duration("batch_wait", ec.BatchWait),
	)
	return progress.NewHub(progress.Config{
		BufferSize:     ec.BufferSize,
		MaxBatchEvents: ec.BatchSize,
		MaxBatchWait:   ec.BatchWait,
		Logger:         a.logger.Named("events"),
	}, hubSinks...), nil
}

func (a *App) setupBackground(jobStore core.JobStore, clock core.Clock) error {
	pc := a.cfg.Poller
	if !pc.Enabled {
		a.logger.Info("background reconciliation disabled")
		return nil
	}
	a.queue = queueMemory.NewQueue(pc.QueueCapacity)
	workers := make([]*worker.Worker, 0, pc.Workers)
	for i := 0; i < pc.Workers; i++ {
		workers = append(workers, worker.New(a.queue, a.reconciler, worker.Config{
			Timeout: pc.ReconcileTimeout,
		}, a.logger.Named("worker").With(zap.Int("worker", i))))
	}
	a.dispatch = dispatcher.New(a.queue, workers)

	var err error
	a.poller, err = poller.New(jobStore, a.dispatch, clock, poller.Config{
		Spec:  pc.Spec,
		Batch: pc.Batch,
	}, a.logger.Named("poller"))
	if err != nil {
		return fmt.Errorf("poller init failed: %w", err)
	}
	a.logger.Info("background reconciliation configured",
		zap.String("spec", pc.Spec),
		zap.Int("workers", pc.Workers),
		zap.Int("queue_capacity", pc.QueueCapacity),
	)
	return nil
}

// ready reports whether the backing stores answer.
func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Remote exposes the remote worker client.
func (a *App) Remote() *remote.Client {
	return a.remote
}

// Run listens on the configured port and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and background reconciliation on ln until ctx
// is canceled, then shuts everything down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	a.logger.Info("application started", zap.String("addr", ln.Addr().String()))

	dispatchDone := make(chan struct{})
	if a.dispatch != nil {
		go func() {
			defer close(dispatchDone)
			a.logger.Info("dispatcher started")
			a.dispatch.Run(ctx)
		}()
	} else {
		close(dispatchDone)
	}
	if a.poller != nil {
		if err := a.poller.Start(ctx); err != nil {
			stop()
			<-dispatchDone
			_ = ln.Close()
			return fmt.Errorf("poller start failed: %w", err)
		}
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.poller != nil {
		a.poller.Stop()
	}
	<-dispatchDone
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases queues and connections. It is safe to call more than once.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

// closeInfrastructure flushes the event hub before closing the stores its
// sinks write to.
func (a *App) closeInfrastructure() {
	if a.events != nil {
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.events.Close(ctx); err != nil {
			a.logger.Warn("job event hub close failed", zap.Error(err))
		}
		cancel()
		a.events = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		cancel()
		a.tracer = nil
	}
}

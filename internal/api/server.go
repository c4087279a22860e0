package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/config"
	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/telemetry"
)

// JobSubmitter starts scrape jobs on the remote worker.
type JobSubmitter interface {
	Submit(ctx context.Context, sourceURL string, ownerID int64) (core.JobRecord, error)
}

// JobTracker reconciles and lists jobs within the caller's scope.
type JobTracker interface {
	Reconcile(ctx context.Context, jobID string, caller core.Identity) (core.JobRecord, error)
	List(ctx context.Context, caller core.Identity) ([]core.JobRecord, error)
}

// Answerer forwards questions and reads back chat history.
type Answerer interface {
	Ask(ctx context.Context, question string, askerID int64) (core.Answer, error)
	Recent(ctx context.Context, askerID int64, limit int) ([]core.ChatEntry, error)
}

// StatsProvider exposes the worker's aggregate stats and health.
type StatsProvider interface {
	Get(ctx context.Context) (map[string]any, error)
	Health(ctx context.Context) bool
}

// ReadinessCheck reports whether downstream dependencies are usable.
type ReadinessCheck func(ctx context.Context) error

// Services bundles the collaborators the handlers call.
type Services struct {
	Submitter JobSubmitter
	Tracker   JobTracker
	Answerer  Answerer
	Stats     StatsProvider
	// Ready is optional; nil means always ready.
	Ready ReadinessCheck
}

// Server wires HTTP handlers to the integration services.
type Server struct {
	router chi.Router
	svc    Services
	cfg    config.Config
	logger *zap.Logger
}

const (
	defaultRequestTimeout = 120 * time.Second
	readinessTimeout      = 3 * time.Second
	maxRequestBytes       = 1 << 20
)

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Services, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(telemetry.Middleware("askmaven.api"))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(identityMiddleware)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}/status", s.jobStatus)
		})
		r.Route("/chat", func(r chi.Router) {
			r.Post("/", s.ask)
			r.Get("/history", s.chatHistory)
		})
		r.Get("/stats", s.stats)
		r.Get("/worker/health", s.workerHealth)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package metrics exposes Prometheus collectors for the askmaven service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequestsTotal          *prometheus.CounterVec
	remoteRequestDurationSeconds *prometheus.HistogramVec
	remoteRetriesTotal           *prometheus.CounterVec
	remoteHealthy                prometheus.Gauge
	jobsSubmittedTotal           *prometheus.CounterVec
	reconcileTotal               *prometheus.CounterVec
	questionsTotal               *prometheus.CounterVec
	reconcileQueueDropsTotal     prometheus.Counter
	jobEventsTotal               *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_remote_requests_total",
				Help: "Remote worker request attempts, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		remoteRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "askmaven_remote_request_duration_seconds",
				Help:    "Histogram of remote worker attempt latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		remoteRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_remote_retries_total",
				Help: "Retries issued against the remote worker, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		remoteHealthy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "askmaven_remote_healthy",
				Help: "1 when the last remote health probe reported healthy, else 0.",
			},
		)

		jobsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_jobs_submitted_total",
				Help: "Scrape job submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		reconcileTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_reconcile_total",
				Help: "Job status reconciliations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		questionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_questions_total",
				Help: "Question/answer exchanges, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		reconcileQueueDropsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "askmaven_reconcile_queue_drops_total",
				Help: "Background reconcile requests dropped because the queue was full.",
			},
		)

		jobEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaven_job_events_total",
				Help: "Job lifecycle events delivered to sinks, labeled by stage.",
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRemoteAttempt records one attempt against the remote worker.
func ObserveRemoteAttempt(endpoint, outcome string, duration time.Duration) {
	Init()
	remoteRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	remoteRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRemoteRetry counts a retry against the remote worker.
func ObserveRemoteRetry(endpoint string) {
	Init()
	remoteRetriesTotal.WithLabelValues(endpoint).Inc()
}

// SetRemoteHealthy records the last health probe result.
func SetRemoteHealthy(healthy bool) {
	Init()
	if healthy {
		remoteHealthy.Set(1)
		return
	}
	remoteHealthy.Set(0)
}

// ObserveSubmission counts a job submission outcome.
func ObserveSubmission(outcome string) {
	Init()
	jobsSubmittedTotal.WithLabelValues(outcome).Inc()
}

// ObserveReconcile counts a reconciliation outcome.
func ObserveReconcile(outcome string) {
	Init()
	reconcileTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuestion counts a question/answer outcome.
func ObserveQuestion(outcome string) {
	Init()
	questionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQueueDrop counts a reconcile request that could not be queued.
func ObserveQueueDrop() {
	Init()
	reconcileQueueDropsTotal.Inc()
}

// ObserveJobEvent counts a job lifecycle event by stage.
func ObserveJobEvent(stage string) {
	Init()
	jobEventsTotal.WithLabelValues(stage).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

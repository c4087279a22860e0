// Package api hosts the HTTP server, middleware, and JSON handlers consumed by
// the dashboard's presentation layer. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST/GET /v1/jobs and GET /v1/jobs/{job_id}/status for scrape jobs.
//   - POST /v1/chat and GET /v1/chat/history for question answering.
//   - GET /v1/stats and /v1/worker/health as remote worker passthroughs.
//
// Every /v1 route requires the caller identity headers X-User-ID and
// X-User-Role set by the session layer.
package api

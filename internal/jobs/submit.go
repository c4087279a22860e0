// Package jobs implements scrape job submission and status reconciliation
// against the remote worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/progress"
	"github.com/JakeFAU/askmaven/internal/remote"
)

const opSubmit = "jobs.submit"

// ActionScrapeStarted is the activity recorded for every accepted submission.
const ActionScrapeStarted = "scrape_started"

// SubmitPolicy decides whether a submission may be retried.
type SubmitPolicy int

const (
	// SubmitRetryWithKey retries per the client policy and sends the local job
	// id as an idempotency key so the worker can drop duplicates.
	SubmitRetryWithKey SubmitPolicy = iota
	// SubmitNoRetry makes exactly one attempt.
	SubmitNoRetry
)

// ParseSubmitPolicy maps a config value to a SubmitPolicy.
func ParseSubmitPolicy(s string) (SubmitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retry_with_key":
		return SubmitRetryWithKey, nil
	case "no_retry":
		return SubmitNoRetry, nil
	}
	return 0, fmt.Errorf("unknown submit policy %q", s)
}

// JobSubmitter is the slice of the remote client the Submitter needs.
type JobSubmitter interface {
	SubmitScrapeJob(ctx context.Context, req remote.SubmitRequest, opts ...remote.CallOption) (remote.SubmitResponse, error)
}

// Throttle gates submissions per key.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Submitter registers new scrape jobs with the remote worker and records them
// locally.
type Submitter struct {
	remote   JobSubmitter
	store    core.JobStore
	ids      core.IDGenerator
	clock    core.Clock
	limiter  Throttle
	activity core.ActivityLog
	policy   SubmitPolicy
	events   progress.Emitter
	logger   *zap.Logger
}

// SubmitterOption customizes a Submitter.
type SubmitterOption func(*Submitter)

// WithLimiter throttles submissions per owner.
func WithLimiter(l Throttle) SubmitterOption {
	return func(s *Submitter) {
		s.limiter = l
	}
}

// WithActivityLog records a scrape_started row for each accepted job.
func WithActivityLog(a core.ActivityLog) SubmitterOption {
	return func(s *Submitter) {
		s.activity = a
	}
}

// WithSubmitPolicy selects the retry behavior for submissions.
func WithSubmitPolicy(p SubmitPolicy) SubmitterOption {
	return func(s *Submitter) {
		s.policy = p
	}
}

// WithSubmitterEvents emits a JOB_SUBMITTED event for each accepted job.
func WithSubmitterEvents(e progress.Emitter) SubmitterOption {
	return func(s *Submitter) {
		s.events = e
	}
}

// WithSubmitterLogger sets the logger.
func WithSubmitterLogger(logger *zap.Logger) SubmitterOption {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubmitter wires a Submitter.
func NewSubmitter(
	rc JobSubmitter,
	store core.JobStore,
	ids core.IDGenerator,
	clock core.Clock,
	opts ...SubmitterOption,
) *Submitter {
	s := &Submitter{
		remote: rc,
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates sourceURL, registers it with the remote worker and, only
// once the worker accepted it, persists a pending JobRecord owned by ownerID.
func (s *Submitter) Submit(ctx context.Context, sourceURL string, ownerID int64) (core.JobRecord, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	domain, err := ValidateSourceURL(sourceURL)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		return core.JobRecord{}, core.E(core.KindInvalidInput, opSubmit, err.Error(), nil)
	}
	if ownerID <= 0 {
		metrics.ObserveSubmission("invalid")
		return core.JobRecord{}, core.E(core.KindInvalidInput, opSubmit, "owner is required", nil)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, ownerKey(ownerID)); err != nil {
			metrics.ObserveSubmission("throttled")
			return core.JobRecord{}, core.E(core.KindTransport, opSubmit, "submission throttled", err)
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return core.JobRecord{}, core.E(core.KindInternal, opSubmit, "allocate job id", err)
	}

	var callOpts []remote.CallOption
	switch s.policy {
	case SubmitNoRetry:
		callOpts = append(callOpts, remote.WithMaxAttempts(1))
	default:
		callOpts = append(callOpts, remote.WithIdempotencyKey(id))
	}

	resp, err := s.remote.SubmitScrapeJob(ctx, remote.SubmitRequest{SitemapURL: sourceURL, UserID: ownerID}, callOpts...)
	if err != nil {
		metrics.ObserveSubmission("remote_error")
		s.logger.Warn("scrape job submission failed",
			zap.String("sitemap_url", sourceURL),
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
		return core.JobRecord{}, err
	}

	remoteID := strings.TrimSpace(resp.JobID)
	if remoteID == "" {
		remoteID = id
	}
	job := core.JobRecord{
		ID:        id,
		RemoteID:  remoteID,
		SourceURL: sourceURL,
		Domain:    domain,
		Status:    core.JobStatusPending,
		OwnerID:   ownerID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		metrics.ObserveSubmission("persist_error")
		s.logger.Error("persist accepted job failed",
			zap.String("job_id", id),
			zap.String("remote_id", remoteID),
			zap.Error(err),
		)
		return core.JobRecord{}, core.E(core.KindInternal, opSubmit, "persist job", err)
	}
	metrics.ObserveSubmission("accepted")
	s.logger.Info("scrape job submitted",
		zap.String("job_id", id),
		zap.String("remote_id", remoteID),
		zap.String("domain", domain),
		zap.Int64("owner_id", ownerID),
	)

	s.recordActivity(ctx, job)
	if s.events != nil {
		s.events.Emit(progress.Submitted(job, job.CreatedAt))
	}
	return job, nil
}

func (s *Submitter) recordActivity(ctx context.Context, job core.JobRecord) {
	if s.activity == nil {
		return
	}
	err := s.activity.Record(ctx, core.Activity{
		UserID:  job.OwnerID,
		Action:  ActionScrapeStarted,
		Details: job.SourceURL,
		At:      job.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("record activity failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ValidateSourceURL checks that raw is an absolute http(s) URL with a host and
// returns the lower-cased host as the job's domain.
func ValidateSourceURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("sitemap url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("sitemap url is malformed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("sitemap url must use http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("sitemap url must include a host")
	}
	return host, nil
}

func ownerKey(ownerID int64) string {
	return "owner:" + strconv.FormatInt(ownerID, 10)
}

// Package core defines the types shared by the remote-worker integration layer.
package core

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store and reported by the remote worker.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScraping  JobStatus = "scraping"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ParseJobStatus converts a raw status string to a JobStatus.
// The remote worker's "processing" alias maps to JobStatusScraping.
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(JobStatusPending):
		return JobStatusPending, nil
	case string(JobStatusScraping), "processing":
		return JobStatusScraping, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further progress is expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobRecord is the local mirror of one remote scrape job.
type JobRecord struct {
	ID            string     `json:"id"`
	RemoteID      string     `json:"remote_id"`
	SourceURL     string     `json:"sitemap_url"`
	Domain        string     `json:"domain"`
	Status        JobStatus  `json:"status"`
	TotalPages    int        `json:"total_pages"`
	ScrapedPages  int        `json:"scraped_pages"`
	FailedPages   int        `json:"failed_pages"`
	LastScrapedAt *time.Time `json:"last_scraped,omitempty"`
	OwnerID       int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Progress returns the scraped percentage. known is false while TotalPages is
// zero: the total is not yet known, which is different from 0%.
func (j JobRecord) Progress() (percent float64, known bool) {
	if j.TotalPages <= 0 {
		return 0, false
	}
	return float64(j.ScrapedPages) / float64(j.TotalPages) * 100, true
}

// CountersConsistent reports whether scraped+failed fits within the total.
func (j JobRecord) CountersConsistent() bool {
	if j.TotalPages <= 0 {
		return true
	}
	return j.ScrapedPages+j.FailedPages <= j.TotalPages
}

// Apply overwrites the remote-owned fields with the reported status. The
// stored status is kept when the worker did not report one.
func (j JobRecord) Apply(st RemoteJobStatus) JobRecord {
	if st.StatusReported {
		j.Status = st.Status
	}
	j.TotalPages = st.TotalPages
	j.ScrapedPages = st.ScrapedPages
	j.FailedPages = st.FailedPages
	j.LastScrapedAt = st.LastScrapedAt
	return j
}

// RemoteJobStatus is the remote worker's view of a job. It is never persisted
// as-is; reconciliation folds it into a JobRecord. Status is meaningful only
// when StatusReported is set.
type RemoteJobStatus struct {
	Status         JobStatus
	StatusReported bool
	TotalPages     int
	ScrapedPages   int
	FailedPages    int
	LastScrapedAt  *time.Time
}

// Answer is the result of a question/answer exchange.
type Answer struct {
	Text         string        `json:"answer"`
	Elapsed      time.Duration `json:"-"`
	ContextFound bool          `json:"context_found"`
}

// ChatEntry is one persisted question/answer exchange.
type ChatEntry struct {
	ID           string        `json:"id"`
	AskerID      int64         `json:"user_id"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	Elapsed      time.Duration `json:"-"`
	ContextFound bool          `json:"context_found"`
	AskedAt      time.Time     `json:"timestamp"`
}

// Activity is an audit row describing a user-triggered action.
type Activity struct {
	UserID  int64
	Action  string
	Details string
	At      time.Time
}

// ReconcileRequest asks a background worker to refresh one job.
type ReconcileRequest struct {
	JobID    string
	Enqueued time.Time
}

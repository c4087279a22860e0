package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/askmaven/internal/core"
)

const jobColumns = `id, remote_id, sitemap_url, domain, status, total_pages, scraped_pages,
	failed_pages, last_scraped, created_by, created_at`

// JobStore persists JobRecords in the scraping_jobs table.
type JobStore struct {
	db querier
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(db querier) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db}, nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job core.JobRecord) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	query := `
INSERT INTO scraping_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.db.Exec(ctx, query,
		job.ID,
		job.RemoteID,
		job.SourceURL,
		job.Domain,
		string(job.Status),
		job.TotalPages,
		job.ScrapedPages,
		job.FailedPages,
		job.LastScrapedAt,
		job.OwnerID,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job. Rows outside scope are reported as core.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string, scope core.Scope) (core.JobRecord, error) {
	query := `SELECT ` + jobColumns + `
FROM scraping_jobs
WHERE id = $1 AND ($2 OR created_by = $3)`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID, scope.All, scope.OwnerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.JobRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.JobRecord{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// SaveProgress overwrites the remote-owned columns of a job. The status
// column is left alone when the worker did not report one.
func (s *JobStore) SaveProgress(ctx context.Context, jobID string, st core.RemoteJobStatus) error {
	query := `
UPDATE scraping_jobs
SET status = COALESCE($1, status), total_pages = $2, scraped_pages = $3, failed_pages = $4, last_scraped = $5
WHERE id = $6`
	var status any
	if st.StatusReported {
		status = string(st.Status)
	}
	tag, err := s.db.Exec(ctx, query,
		status,
		st.TotalPages,
		st.ScrapedPages,
		st.FailedPages,
		st.LastScrapedAt,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListJobs returns the jobs visible in scope, newest first.
func (s *JobStore) ListJobs(ctx context.Context, scope core.Scope) ([]core.JobRecord, error) {
	query := `SELECT ` + jobColumns + `
FROM scraping_jobs
WHERE ($1 OR created_by = $2)
ORDER BY created_at DESC, id DESC`
	rows, err := s.db.Query(ctx, query, scope.All, scope.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListActiveJobs returns up to limit non-terminal jobs, oldest first.
func (s *JobStore) ListActiveJobs(ctx context.Context, limit int) ([]core.JobRecord, error) {
	query := `SELECT ` + jobColumns + `
FROM scraping_jobs
WHERE status NOT IN ('completed', 'failed')
ORDER BY created_at ASC, id ASC
LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return collectJobs(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (core.JobRecord, error) {
	var (
		job         core.JobRecord
		status      string
		lastScraped *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.RemoteID,
		&job.SourceURL,
		&job.Domain,
		&status,
		&job.TotalPages,
		&job.ScrapedPages,
		&job.FailedPages,
		&lastScraped,
		&job.OwnerID,
		&job.CreatedAt,
	)
	if err != nil {
		return core.JobRecord{}, err
	}
	job.Status = core.JobStatus(status)
	job.LastScrapedAt = lastScraped
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]core.JobRecord, error) {
	defer rows.Close()
	out := make([]core.JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

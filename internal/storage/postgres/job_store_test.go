package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/askmaven/internal/core"
)

var jobColumnNames = []string{
	"id", "remote_id", "sitemap_url", "domain", "status", "total_pages", "scraped_pages",
	"failed_pages", "last_scraped", "created_by", "created_at",
}

func newMockJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(nil)
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()
	job := core.JobRecord{
		ID:        "0192-local",
		RemoteID:  "remote-1",
		SourceURL: "https://example.com/sitemap.xml",
		Domain:    "example.com",
		Status:    core.JobStatusPending,
		OwnerID:   42,
		CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO scraping_jobs").
		WithArgs(
			job.ID,
			job.RemoteID,
			job.SourceURL,
			job.Domain,
			"pending",
			0,
			0,
			0,
			pgxmock.AnyArg(),
			int64(42),
			created,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("INSERT INTO scraping_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("duplicate key"))

	err := store.CreateJob(context.Background(), core.JobRecord{ID: "x"})
	require.ErrorContains(t, err, "duplicate key")
	require.Error(t, store.CreateJob(context.Background(), core.JobRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()
	last := created.Add(time.Hour)

	mock.ExpectQuery("SELECT .+ FROM scraping_jobs WHERE id = \\$1").
		WithArgs("job-1", false, int64(42)).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow("job-1", "remote-1", "https://example.com/sitemap.xml", "example.com", "completed",
				50, 48, 2, &last, int64(42), created))

	job, err := store.GetJob(context.Background(), "job-1", core.Scope{OwnerID: 42})
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCompleted, job.Status)
	require.Equal(t, 50, job.TotalPages)
	require.Equal(t, 48, job.ScrapedPages)
	require.Equal(t, 2, job.FailedPages)
	require.NotNil(t, job.LastScrapedAt)
	require.True(t, job.LastScrapedAt.Equal(last))
	require.Equal(t, int64(42), job.OwnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectQuery("SELECT .+ FROM scraping_jobs").
		WithArgs("job-1", false, int64(7)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "job-1", core.Scope{OwnerID: 7})
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProgressUpdatesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	st := core.RemoteJobStatus{StatusReported: true, Status: core.JobStatusScraping, TotalPages: 10, ScrapedPages: 4, FailedPages: 1}

	mock.ExpectExec("UPDATE scraping_jobs").
		WithArgs("scraping", 10, 4, 1, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scraping_jobs").
		WithArgs("scraping", 10, 4, 1, pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SaveProgress(context.Background(), "job-1", st))
	require.ErrorIs(t, store.SaveProgress(context.Background(), "gone", st), core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProgressKeepsStatusColumnWhenUnreported(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	st := core.RemoteJobStatus{TotalPages: 50, ScrapedPages: 48, FailedPages: 2}

	mock.ExpectExec("UPDATE scraping_jobs SET status = COALESCE\\(\\$1, status\\)").
		WithArgs(nil, 50, 48, 2, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SaveProgress(context.Background(), "job-1", st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsAndActiveJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT .+ FROM scraping_jobs WHERE \\(\\$1 OR created_by = \\$2\\) ORDER BY created_at DESC").
		WithArgs(true, int64(0)).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow("b", "rb", "https://b.test/s.xml", "b.test", "pending", 0, 0, 0, nil, int64(2), created.Add(time.Minute)).
			AddRow("a", "ra", "https://a.test/s.xml", "a.test", "scraping", 5, 1, 0, nil, int64(1), created))
	mock.ExpectQuery("SELECT .+ FROM scraping_jobs WHERE status NOT IN").
		WithArgs(25).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow("a", "ra", "https://a.test/s.xml", "a.test", "scraping", 5, 1, 0, nil, int64(1), created))

	all, err := store.ListJobs(context.Background(), core.Scope{All: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID)
	require.Nil(t, all[0].LastScrapedAt)

	active, err := store.ListActiveJobs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, core.JobStatusScraping, active[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scraping_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, EnsureSchema(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

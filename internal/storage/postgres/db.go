// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of *pgxpool.Pool the stores use. pgxmock pools
// satisfy it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open creates a connection pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scraping_jobs (
	id            TEXT PRIMARY KEY,
	remote_id     TEXT NOT NULL,
	sitemap_url   TEXT NOT NULL,
	domain        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	total_pages   INTEGER NOT NULL DEFAULT 0,
	scraped_pages INTEGER NOT NULL DEFAULT 0,
	failed_pages  INTEGER NOT NULL DEFAULT 0,
	last_scraped  TIMESTAMPTZ,
	created_by    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS scraping_jobs_owner_idx ON scraping_jobs (created_by, created_at DESC);
CREATE INDEX IF NOT EXISTS scraping_jobs_status_idx ON scraping_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS chat_history (
	id               TEXT PRIMARY KEY,
	user_id          BIGINT NOT NULL,
	question         TEXT NOT NULL,
	answer           TEXT NOT NULL,
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	context_found    BOOLEAN NOT NULL DEFAULT false,
	timestamp        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_history_user_idx ON chat_history (user_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS api_logs (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL,
	action       TEXT NOT NULL,
	request_data JSONB NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables the stores need when they are missing.
func EnsureSchema(ctx context.Context, db querier) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

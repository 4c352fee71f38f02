package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecrawl/internal/store"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	seed_url TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	pages_crawled INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStoreWithPool constructs a RunStore from an existing pool.
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table, "crawl_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

// Migrate creates the runs table when missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(runsSchema, s.table)); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row, or re-marks an existing one as running.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, seedURL string, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, seed_url, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE %[1]s.status <> EXCLUDED.status;`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, seedURL, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// FinishRun marks a run ended. It returns store.ErrNotFound when no row matches.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	pages int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, pages_crawled = $3, error_message = $4
		WHERE id = $5;`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, pages, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by id.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, seed_url, started_at, finished_at, status, pages_crawled, error_message
		FROM %s
		WHERE id = $1;`, s.table)
	var run store.Run
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.SeedURL,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.PagesCrawled,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, seed_url, started_at, finished_at, status, pages_crawled, error_message
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, s.table)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.SeedURL,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.PagesCrawled,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

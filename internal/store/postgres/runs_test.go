package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(id, "https://example.com", started, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(finished, store.RunFinished, 3, (*string)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, s.StartRun(ctx, id, "https://example.com", started))
	require.NoError(t, s.FinishRun(ctx, id, finished, store.RunFinished, 3, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreFinishMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	mock.ExpectExec("UPDATE crawl_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = s.FinishRun(context.Background(), uuid.New(), time.Now(), store.RunStopped, 0, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreGetAndList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewRunStoreWithPool(mock, "crawl_runs")
	require.NoError(t, err)

	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "seed_url", "started_at", "finished_at", "status", "pages_crawled", "error_message"}

	mock.ExpectQuery("SELECT id, seed_url").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(id, "https://example.com", started, nil, store.RunRunning, 0, nil))
	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	missing := uuid.New()
	mock.ExpectQuery("SELECT id, seed_url").
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetRun(context.Background(), missing)
	require.ErrorIs(t, err, store.ErrNotFound)

	status := store.RunFinished
	mock.ExpectQuery("SELECT id, seed_url").
		WithArgs(&status, 10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id, "https://example.com", started, &started, store.RunFinished, 7, nil))
	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 7, runs[0].PagesCrawled)
	require.NoError(t, mock.ExpectationsWereMet())
}

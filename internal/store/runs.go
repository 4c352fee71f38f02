package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Crawl run statuses persisted in crawl_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunStopped  RunStatus = "stopped"
	RunError    RunStatus = "error"
)

// Run models one row of crawl_runs.
type Run struct {
	// ID is the crawl identifier.
	ID uuid.UUID
	// SeedURL is the normalized start URL.
	SeedURL string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run ends.
	FinishedAt *time.Time
	// Status is running/finished/stopped/error.
	Status RunStatus
	// PagesCrawled is the committed page count at the end of the run.
	PagesCrawled int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists crawl run lifecycle rows.
type RunRepository interface {
	// StartRun inserts (or idempotently re-marks) a running row.
	StartRun(ctx context.Context, id uuid.UUID, seedURL string, startedAt time.Time) error
	// FinishRun marks the run ended with the provided status and error.
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, pages int, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

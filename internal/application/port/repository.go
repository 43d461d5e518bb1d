package port

import (
	"context"
	"time"

	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// RunArchive defines persistence operations for runs and their step traces.
// Implementations exist for SQLite, Redis and process memory; all of them
// return run.ErrNotFound for unknown run IDs.
type RunArchive interface {
	// SaveRun inserts the run or replaces an existing record with the same ID
	SaveRun(ctx context.Context, rec *run.Run) error

	// GetRun retrieves a run by its ID
	GetRun(ctx context.Context, id string) (*run.Run, error)

	// ListRuns retrieves runs ordered by start time, newest first
	ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error)

	// AppendStep appends one loop iteration to the run's trace
	AppendStep(ctx context.Context, step *run.Step) error

	// StepsByRunID retrieves a run's trace in iteration order
	StepsByRunID(ctx context.Context, runID string) ([]*run.Step, error)

	// PruneBefore deletes runs that finished before the cutoff and returns
	// how many were removed
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

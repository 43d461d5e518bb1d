package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// RunArchive implements port.RunArchive in memory.
// Safe for concurrent use.
type RunArchive struct {
	runs       map[string]*run.Run
	steps      map[string][]*run.Step
	nextStepID int64
	mu         sync.RWMutex
}

// NewRunArchive creates a new in-memory run archive.
func NewRunArchive() *RunArchive {
	return &RunArchive{
		runs:  make(map[string]*run.Run),
		steps: make(map[string][]*run.Step),
	}
}

// SaveRun inserts the run or replaces an existing record with the same ID
func (a *RunArchive) SaveRun(ctx context.Context, rec *run.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[rec.ID] = copyRun(rec)
	return nil
}

// GetRun retrieves a run by its ID
func (a *RunArchive) GetRun(ctx context.Context, id string) (*run.Run, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.runs[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	return copyRun(rec), nil
}

// ListRuns retrieves runs ordered by start time, newest first
func (a *RunArchive) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sorted := make([]*run.Run, 0, len(a.runs))
	for _, rec := range a.runs {
		sorted = append(sorted, rec)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartedAt.Equal(sorted[j].StartedAt) {
			return sorted[i].StartedAt.After(sorted[j].StartedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})

	if limit <= 0 || offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}

	page := make([]*run.Run, 0, end-offset)
	for _, rec := range sorted[offset:end] {
		page = append(page, copyRun(rec))
	}
	return page, nil
}

// AppendStep appends one loop iteration to the run's trace
func (a *RunArchive) AppendStep(ctx context.Context, step *run.Step) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextStepID++
	step.ID = a.nextStepID

	copied := *step
	a.steps[step.RunID] = append(a.steps[step.RunID], &copied)
	return nil
}

// StepsByRunID retrieves a run's trace in append order
func (a *RunArchive) StepsByRunID(ctx context.Context, runID string) ([]*run.Step, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	trace := a.steps[runID]
	steps := make([]*run.Step, 0, len(trace))
	for _, step := range trace {
		copied := *step
		steps = append(steps, &copied)
	}
	return steps, nil
}

// PruneBefore deletes runs that finished before the cutoff and returns how
// many were removed
func (a *RunArchive) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pruned := 0
	for id, rec := range a.runs {
		if rec.FinishedAt == nil || !rec.FinishedAt.Before(cutoff) {
			continue
		}
		delete(a.runs, id)
		delete(a.steps, id)
		pruned++
	}
	return pruned, nil
}

// copyRun returns a deep copy so callers can't mutate archived state
// through shared pointers
func copyRun(rec *run.Run) *run.Run {
	copied := *rec
	copied.Visited = append([]string(nil), rec.Visited...)
	copied.Failures = append([]run.InstructionFailure(nil), rec.Failures...)
	if rec.FinishedAt != nil {
		finished := *rec.FinishedAt
		copied.FinishedAt = &finished
	}
	return &copied
}

var _ port.RunArchive = (*RunArchive)(nil)

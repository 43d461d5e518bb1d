package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// RunArchive implements port.RunArchive on SQLite
type RunArchive struct {
	db     *DB
	logger *zap.Logger
}

// NewRunArchive creates a new SQLite run archive
func NewRunArchive(db *DB, logger *zap.Logger) port.RunArchive {
	return &RunArchive{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts the run or updates an existing record with the same ID.
// An upsert rather than INSERT OR REPLACE, so the steps of a run that is
// being finalized survive the rewrite of its row.
func (a *RunArchive) SaveRun(ctx context.Context, rec *run.Run) error {
	visited, err := json.Marshal(rec.Visited)
	if err != nil {
		return fmt.Errorf("failed to marshal visited states: %w", err)
	}
	failures, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, scenario, policy, status, fault_reason, fault_detail,
			initial_state, final_state, visited, iterations, transitions,
			fallbacks, failures, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			fault_reason = excluded.fault_reason,
			fault_detail = excluded.fault_detail,
			final_state = excluded.final_state,
			visited = excluded.visited,
			iterations = excluded.iterations,
			transitions = excluded.transitions,
			fallbacks = excluded.fallbacks,
			failures = excluded.failures,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`

	_, err = a.db.getExecutor(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.Scenario,
		rec.Policy,
		string(rec.Status),
		string(rec.FaultReason),
		rec.FaultDetail,
		rec.InitialState,
		rec.FinalState,
		string(visited),
		rec.Iterations,
		rec.Transitions,
		rec.Fallbacks,
		string(failures),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		a.logger.Error("Failed to save run", zap.String("run_id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by its ID
func (a *RunArchive) GetRun(ctx context.Context, id string) (*run.Run, error) {
	query := `
		SELECT id, scenario, policy, status, fault_reason, fault_detail,
			initial_state, final_state, visited, iterations, transitions,
			fallbacks, failures, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	rec, err := scanRun(a.db.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, run.ErrNotFound
	}
	if err != nil {
		a.logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return rec, nil
}

// ListRuns retrieves runs ordered by start time, newest first
func (a *RunArchive) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	query := `
		SELECT id, scenario, policy, status, fault_reason, fault_detail,
			initial_state, final_state, visited, iterations, transitions,
			fallbacks, failures, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := a.db.getExecutor(ctx).QueryContext(ctx, query, limit, offset)
	if err != nil {
		a.logger.Error("Failed to list runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*run.Run
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// AppendStep appends one loop iteration to the run's trace
func (a *RunArchive) AppendStep(ctx context.Context, step *run.Step) error {
	query := `
		INSERT INTO steps (
			run_id, iteration, from_state, to_state, source,
			raw_choice, fallback, stagnant, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := a.db.getExecutor(ctx).ExecContext(ctx, query,
		step.RunID,
		step.Iteration,
		step.FromState,
		step.ToState,
		step.Source,
		step.RawChoice,
		step.Fallback,
		step.Stagnant,
		step.Timestamp,
	)
	if err != nil {
		a.logger.Error("Failed to append step", zap.String("run_id", step.RunID), zap.Error(err))
		return fmt.Errorf("failed to append step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	step.ID = id
	return nil
}

// StepsByRunID retrieves a run's trace in iteration order
func (a *RunArchive) StepsByRunID(ctx context.Context, runID string) ([]*run.Step, error) {
	query := `
		SELECT id, run_id, iteration, from_state, to_state, source,
			raw_choice, fallback, stagnant, timestamp
		FROM steps
		WHERE run_id = ?
		ORDER BY iteration ASC, id ASC
	`

	rows, err := a.db.getExecutor(ctx).QueryContext(ctx, query, runID)
	if err != nil {
		a.logger.Error("Failed to get steps", zap.String("run_id", runID), zap.Error(err))
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	var steps []*run.Step
	for rows.Next() {
		var step run.Step
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Iteration,
			&step.FromState,
			&step.ToState,
			&step.Source,
			&step.RawChoice,
			&step.Fallback,
			&step.Stagnant,
			&step.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

// PruneBefore deletes runs that finished before the cutoff. Steps go with
// their run through the foreign key cascade.
func (a *RunArchive) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`

	result, err := a.db.getExecutor(ctx).ExecContext(ctx, query, cutoff)
	if err != nil {
		a.logger.Error("Failed to prune runs", zap.Error(err))
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRun reads one runs row
func scanRun(s rowScanner) (*run.Run, error) {
	var rec run.Run
	var status, faultReason, visited, failures string
	var finishedAt sql.NullTime

	err := s.Scan(
		&rec.ID,
		&rec.Scenario,
		&rec.Policy,
		&status,
		&faultReason,
		&rec.FaultDetail,
		&rec.InitialState,
		&rec.FinalState,
		&visited,
		&rec.Iterations,
		&rec.Transitions,
		&rec.Fallbacks,
		&failures,
		&rec.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = run.Status(status)
	rec.FaultReason = run.FaultReason(faultReason)
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal([]byte(visited), &rec.Visited); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visited states: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &rec.Failures); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failures: %w", err)
	}

	return &rec, nil
}

// Verify interface compliance
var _ port.RunArchive = (*RunArchive)(nil)

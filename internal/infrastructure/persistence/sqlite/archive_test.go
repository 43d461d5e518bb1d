package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/application/port/porttest"
	"github.com/geoffsee/agent-mst/internal/domain/run"
	"github.com/geoffsee/agent-mst/migrations"
	"github.com/geoffsee/agent-mst/pkg/database"
)

// setupArchive opens an in-memory database with the real schema applied.
// A single connection keeps every query on the same in-memory instance.
func setupArchive(t *testing.T) (port.RunArchive, *DB) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db, zap.NewNop()).Run(migrations.FS); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	wrapped := NewDB(db.DB, zap.NewNop())
	return NewRunArchive(wrapped, zap.NewNop()), wrapped
}

func sampleRun(id string, startedAt time.Time) *run.Run {
	finished := startedAt.Add(2 * time.Second)
	return &run.Run{
		ID:           id,
		Scenario:     "triage",
		Policy:       "oracle",
		Status:       run.StatusGoalReached,
		InitialState: "NEW",
		FinalState:   "RESOLVED",
		Visited:      []string{"NEW", "INVESTIGATING", "RESOLVED"},
		Iterations:   3,
		Transitions:  2,
		Fallbacks:    1,
		Failures: []run.InstructionFailure{
			{Iteration: 2, Index: 0, Description: "count passes", State: "INVESTIGATING", Error: "boom"},
		},
		StartedAt:  startedAt,
		FinishedAt: &finished,
	}
}

func sampleStep(runID string, iteration int, ts time.Time) *run.Step {
	return &run.Step{
		RunID:     runID,
		Iteration: iteration,
		FromState: "NEW",
		ToState:   "INVESTIGATING",
		Source:    run.SourceOracle,
		RawChoice: "INVESTIGATING",
		Timestamp: ts,
	}
}

func TestSQLiteArchive_Contract(t *testing.T) {
	archive, _ := setupArchive(t)
	porttest.RunArchiveContract(t, archive)
}

func TestSaveAndGetRun(t *testing.T) {
	archive, _ := setupArchive(t)
	ctx := context.Background()

	want := sampleRun("run-1", time.Now().UTC().Truncate(time.Second))
	if err := archive.SaveRun(ctx, want); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	got, err := archive.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if got.ID != want.ID || got.Scenario != want.Scenario || got.Policy != want.Policy {
		t.Errorf("identity fields mismatch: got %+v", got)
	}
	if got.Status != run.StatusGoalReached {
		t.Errorf("expected status %s, got %s", run.StatusGoalReached, got.Status)
	}
	if len(got.Visited) != 3 || got.Visited[0] != "NEW" || got.Visited[2] != "RESOLVED" {
		t.Errorf("visited states mismatch: got %v", got.Visited)
	}
	if got.Iterations != 3 || got.Transitions != 2 || got.Fallbacks != 1 {
		t.Errorf("counters mismatch: got %+v", got)
	}
	if len(got.Failures) != 1 || got.Failures[0].Error != "boom" {
		t.Errorf("failures mismatch: got %v", got.Failures)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("expected started_at %v, got %v", want.StartedAt, got.StartedAt)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(*want.FinishedAt) {
		t.Errorf("expected finished_at %v, got %v", want.FinishedAt, got.FinishedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	archive, _ := setupArchive(t)

	_, err := archive.GetRun(context.Background(), "run-absent")
	if !errors.Is(err, run.ErrNotFound) {
		t.Fatalf("expected run.ErrNotFound, got %v", err)
	}
}

func TestSaveRunUpsertKeepsSteps(t *testing.T) {
	archive, _ := setupArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := sampleRun("run-up", now)
	rec.Status = run.StatusRunning
	rec.FinishedAt = nil
	if err := archive.SaveRun(ctx, rec); err != nil {
		t.Fatalf("failed to save running record: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if err := archive.AppendStep(ctx, sampleStep("run-up", i, now)); err != nil {
			t.Fatalf("failed to append step %d: %v", i, err)
		}
	}

	final := sampleRun("run-up", now)
	if err := archive.SaveRun(ctx, final); err != nil {
		t.Fatalf("failed to save final record: %v", err)
	}

	got, err := archive.GetRun(ctx, "run-up")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != run.StatusGoalReached {
		t.Errorf("expected final status, got %s", got.Status)
	}

	steps, err := archive.StepsByRunID(ctx, "run-up")
	if err != nil {
		t.Fatalf("failed to get steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected steps to survive the final save, got %d", len(steps))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	archive, _ := setupArchive(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		rec := sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := archive.SaveRun(ctx, rec); err != nil {
			t.Fatalf("failed to save run %d: %v", i, err)
		}
	}

	page, err := archive.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(page))
	}
	if page[0].ID != "run-2" || page[1].ID != "run-1" {
		t.Errorf("expected newest first, got %s, %s", page[0].ID, page[1].ID)
	}

	page, err = archive.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "run-0" {
		t.Errorf("expected final page with run-0, got %v", page)
	}
}

func TestAppendStepAssignsID(t *testing.T) {
	archive, _ := setupArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := sampleRun("run-steps", now)
	if err := archive.SaveRun(ctx, rec); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	step := sampleStep("run-steps", 1, now)
	if err := archive.AppendStep(ctx, step); err != nil {
		t.Fatalf("failed to append step: %v", err)
	}
	if step.ID == 0 {
		t.Error("expected step ID to be assigned")
	}

	second := sampleStep("run-steps", 2, now)
	second.FromState = "INVESTIGATING"
	second.ToState = "RESOLVED"
	second.Fallback = true
	if err := archive.AppendStep(ctx, second); err != nil {
		t.Fatalf("failed to append second step: %v", err)
	}

	steps, err := archive.StepsByRunID(ctx, "run-steps")
	if err != nil {
		t.Fatalf("failed to get steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Iteration != 1 || steps[1].Iteration != 2 {
		t.Errorf("expected iteration order, got %d, %d", steps[0].Iteration, steps[1].Iteration)
	}
	if !steps[1].Fallback {
		t.Error("expected fallback flag to round-trip")
	}
}

func TestPruneBefore(t *testing.T) {
	archive, _ := setupArchive(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	old := sampleRun("run-old", base.Add(-48*time.Hour))
	recent := sampleRun("run-recent", base.Add(-1*time.Hour))
	running := sampleRun("run-running", base.Add(-72*time.Hour))
	running.Status = run.StatusRunning
	running.FinishedAt = nil

	for _, rec := range []*run.Run{old, recent, running} {
		if err := archive.SaveRun(ctx, rec); err != nil {
			t.Fatalf("failed to save %s: %v", rec.ID, err)
		}
	}
	if err := archive.AppendStep(ctx, sampleStep("run-old", 1, base)); err != nil {
		t.Fatalf("failed to append step: %v", err)
	}

	pruned, err := archive.PruneBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned run, got %d", pruned)
	}

	if _, err := archive.GetRun(ctx, "run-old"); !errors.Is(err, run.ErrNotFound) {
		t.Errorf("expected pruned run to be gone, got %v", err)
	}
	if _, err := archive.GetRun(ctx, "run-recent"); err != nil {
		t.Errorf("expected recent run to survive, got %v", err)
	}
	if _, err := archive.GetRun(ctx, "run-running"); err != nil {
		t.Errorf("expected unfinished run to survive, got %v", err)
	}

	steps, err := archive.StepsByRunID(ctx, "run-old")
	if err != nil {
		t.Fatalf("failed to get steps of pruned run: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("expected cascade to remove steps, got %d", len(steps))
	}
}

func TestWithTransactionRollsBack(t *testing.T) {
	archive, db := setupArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := archive.SaveRun(txCtx, sampleRun("run-tx", now)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("expected abort error, got %v", err)
	}

	if _, err := archive.GetRun(ctx, "run-tx"); !errors.Is(err, run.ErrNotFound) {
		t.Errorf("expected rollback to discard the run, got %v", err)
	}
}

func TestWithTransactionCommits(t *testing.T) {
	archive, db := setupArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := archive.SaveRun(txCtx, sampleRun("run-tx", now)); err != nil {
			return err
		}
		return archive.AppendStep(txCtx, sampleStep("run-tx", 1, now))
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	if _, err := archive.GetRun(ctx, "run-tx"); err != nil {
		t.Errorf("expected committed run, got %v", err)
	}
	steps, err := archive.StepsByRunID(ctx, "run-tx")
	if err != nil {
		t.Fatalf("failed to get steps: %v", err)
	}
	if len(steps) != 1 {
		t.Errorf("expected 1 committed step, got %d", len(steps))
	}
}

// Package porttest holds contract suites that every adapter implementation
// of an application port has to pass.
package porttest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// RunArchiveContract runs a suite of tests to verify that a RunArchive
// implementation adheres to the defined interface contract.
func RunArchiveContract(t *testing.T, archive port.RunArchive) {
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	base := time.Now().UTC().Truncate(time.Second)

	finishedRun := func(id string, startedAt time.Time) *run.Run {
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
				{Iteration: 1, Index: 0, Description: "count passes", State: "NEW", Error: "boom"},
			},
			StartedAt:  startedAt,
			FinishedAt: &finished,
		}
	}

	t.Run("Save and Get", func(t *testing.T) {
		id := "contract-save-" + suffix
		want := finishedRun(id, base)

		require.NoError(t, archive.SaveRun(ctx, want), "SaveRun should not return error")

		got, err := archive.GetRun(ctx, id)
		require.NoError(t, err, "GetRun should not return error")
		assert.Equal(t, want.Scenario, got.Scenario)
		assert.Equal(t, want.Policy, got.Policy)
		assert.Equal(t, run.StatusGoalReached, got.Status)
		assert.Equal(t, want.Visited, got.Visited)
		assert.Equal(t, want.Iterations, got.Iterations)
		assert.Equal(t, want.Fallbacks, got.Fallbacks)
		require.Len(t, got.Failures, 1)
		assert.Equal(t, "boom", got.Failures[0].Error)
		assert.True(t, got.StartedAt.Equal(want.StartedAt), "StartedAt should round-trip")
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(*want.FinishedAt), "FinishedAt should round-trip")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := archive.GetRun(ctx, "contract-absent-"+suffix)
		assert.ErrorIs(t, err, run.ErrNotFound)
	})

	t.Run("Save Updates Existing", func(t *testing.T) {
		id := "contract-update-" + suffix
		rec := finishedRun(id, base)
		rec.Status = run.StatusRunning
		rec.FinalState = ""
		rec.FinishedAt = nil
		require.NoError(t, archive.SaveRun(ctx, rec))

		require.NoError(t, archive.SaveRun(ctx, finishedRun(id, base)))

		got, err := archive.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, run.StatusGoalReached, got.Status)
		assert.Equal(t, "RESOLVED", got.FinalState)
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("List Newest First", func(t *testing.T) {
		// Future start times keep these three ahead of records other
		// subtests created.
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = fmt.Sprintf("contract-list-%d-%s", i, suffix)
			rec := finishedRun(ids[i], base.Add(time.Duration(i+1)*time.Hour))
			require.NoError(t, archive.SaveRun(ctx, rec))
		}

		page, err := archive.ListRuns(ctx, 3, 0)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)
		assert.Equal(t, ids[0], page[2].ID)

		page, err = archive.ListRuns(ctx, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[1], page[0].ID)
		assert.Equal(t, ids[0], page[1].ID)
	})

	t.Run("Steps Round-Trip", func(t *testing.T) {
		id := "contract-steps-" + suffix
		require.NoError(t, archive.SaveRun(ctx, finishedRun(id, base)))

		for i := 1; i <= 3; i++ {
			step := &run.Step{
				RunID:     id,
				Iteration: i,
				FromState: "NEW",
				ToState:   "INVESTIGATING",
				Source:    run.SourceOracle,
				RawChoice: "INVESTIGATING",
				Fallback:  i == 2,
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, archive.AppendStep(ctx, step))
			assert.NotZero(t, step.ID, "AppendStep should assign an ID")
		}

		steps, err := archive.StepsByRunID(ctx, id)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		for i, step := range steps {
			assert.Equal(t, i+1, step.Iteration, "steps should come back in append order")
		}
		assert.True(t, steps[1].Fallback)

		steps, err = archive.StepsByRunID(ctx, "contract-absent-"+suffix)
		require.NoError(t, err)
		assert.Empty(t, steps, "unknown run should have an empty trace")
	})

	t.Run("Prune Before", func(t *testing.T) {
		// Finish times far in the past keep the cutoff away from records
		// other subtests created.
		oldID := "contract-prune-old-" + suffix
		keptID := "contract-prune-kept-" + suffix
		runningID := "contract-prune-running-" + suffix

		require.NoError(t, archive.SaveRun(ctx, finishedRun(oldID, base.Add(-2000*time.Hour))))
		require.NoError(t, archive.SaveRun(ctx, finishedRun(keptID, base.Add(-100*time.Hour))))

		running := finishedRun(runningID, base.Add(-3000*time.Hour))
		running.Status = run.StatusRunning
		running.FinishedAt = nil
		require.NoError(t, archive.SaveRun(ctx, running))

		require.NoError(t, archive.AppendStep(ctx, &run.Step{
			RunID: oldID, Iteration: 1,
			FromState: "NEW", ToState: "RESOLVED",
			Source: run.SourceTable, Timestamp: base,
		}))

		pruned, err := archive.PruneBefore(ctx, base.Add(-1000*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, pruned)

		_, err = archive.GetRun(ctx, oldID)
		assert.ErrorIs(t, err, run.ErrNotFound, "pruned run should be gone")

		_, err = archive.GetRun(ctx, keptID)
		assert.NoError(t, err, "recently finished run should survive")

		_, err = archive.GetRun(ctx, runningID)
		assert.NoError(t, err, "unfinished run should survive regardless of age")

		steps, err := archive.StepsByRunID(ctx, oldID)
		require.NoError(t, err)
		assert.Empty(t, steps, "pruned run's trace should be gone")
	})
}

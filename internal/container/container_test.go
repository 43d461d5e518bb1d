package container

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/config"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// testConfig is a valid memory-backed configuration that touches no disk
// or network
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Engine.MaxIterations = 20
	cfg.Archive.Backend = config.BackendMemory
	cfg.Archive.Retention = time.Hour
	cfg.Archive.PruneInterval = time.Hour
	cfg.Reports.Dir = t.TempDir()
	cfg.Worker.QueueSize = 4
	cfg.Worker.Concurrency = 1
	return cfg
}

func TestContainer_StartExecuteClose(t *testing.T) {
	c, err := New(testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Ready() {
		t.Error("expected the container to be ready")
	}
	if err := c.Start(ctx); err == nil {
		t.Error("expected a second Start to refuse")
	}

	health := c.Health()
	if !health.Overall {
		t.Errorf("expected overall health, got %+v", health.Components)
	}

	// A table scenario runs end to end through the assembled wiring
	rec, err := c.RunService().Execute(ctx, "release-pipeline", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != run.StatusGoalReached {
		t.Errorf("expected GOAL_REACHED, got %s", rec.Status)
	}

	steps, err := c.RunService().Trace(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(steps) != rec.Iterations {
		t.Errorf("expected %d archived steps, got %d", rec.Iterations, len(steps))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Ready() {
		t.Error("expected the container to be unready after Close")
	}
	if err := c.Close(); err == nil {
		t.Error("expected a second Close to refuse")
	}
}

func TestContainer_OracleScenarioWithoutOracleIsRejected(t *testing.T) {
	c, err := New(testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	if _, err := c.RunService().Execute(ctx, "incident-triage", nil); err == nil {
		t.Error("expected an oracle scenario to be rejected without an oracle")
	}
}

func TestContainer_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = -1

	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Error("expected an invalid config to be rejected")
	}
}

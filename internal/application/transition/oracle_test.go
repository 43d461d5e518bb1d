package transition

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

// oracleFunc adapts a plain function to the decision oracle port
type oracleFunc func(ctx context.Context, prompt string) (string, error)

func (f oracleFunc) Decide(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func triageSnapshot() Snapshot {
	return Snapshot{
		Current:  "A",
		Visited:  []machine.State{"A"},
		Possible: []machine.State{"A", "B", "C"},
	}
}

func TestOraclePolicy_Propose(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantState    machine.State
		wantSource   string
		wantFallback bool
	}{
		{"valid candidate", "B", "B", SourceOracle, false},
		{"candidate with explanation lines", "B\nbecause the backlog is clear", "B", SourceOracle, false},
		{"candidate with surrounding whitespace", "  C  ", "C", SourceOracle, false},
		{"current state is rejected", "A", "B", SourceFallback, true},
		{"unknown state is rejected", "Z", "B", SourceFallback, true},
		{"empty reply falls back", "", "B", SourceFallback, true},
		{"leading blank line falls back", "\nB", "B", SourceFallback, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewOraclePolicy(oracleFunc(func(ctx context.Context, prompt string) (string, error) {
				return tt.reply, nil
			}))

			proposal, err := policy.Propose(context.Background(), triageSnapshot())
			if err != nil {
				t.Fatalf("Propose() failed: %v", err)
			}

			if proposal.State != tt.wantState {
				t.Errorf("Propose() state = %v, want %v", proposal.State, tt.wantState)
			}
			if proposal.Source != tt.wantSource {
				t.Errorf("Propose() source = %v, want %v", proposal.Source, tt.wantSource)
			}
			if proposal.Fallback != tt.wantFallback {
				t.Errorf("Propose() fallback = %v, want %v", proposal.Fallback, tt.wantFallback)
			}
			if proposal.Stagnant {
				t.Error("Propose() stagnant = true, want false")
			}
		})
	}
}

func TestOraclePolicy_Propose_WrapsWhenAllVisited(t *testing.T) {
	snap := Snapshot{
		Current:  "A",
		Visited:  []machine.State{"A", "B", "C"},
		Possible: []machine.State{"A", "B", "C"},
	}

	policy := NewOraclePolicy(oracleFunc(func(ctx context.Context, prompt string) (string, error) {
		return "A", nil
	}))

	proposal, err := policy.Propose(context.Background(), snap)
	if err != nil {
		t.Fatalf("Propose() failed: %v", err)
	}

	if proposal.State != "A" {
		t.Errorf("Propose() state = %v, want A", proposal.State)
	}
	if !proposal.Fallback {
		t.Error("Propose() fallback = false, want true")
	}
	if !proposal.Stagnant {
		t.Error("Propose() stagnant = false, want true")
	}
}

func TestOraclePolicy_Propose_OracleError(t *testing.T) {
	transport := errors.New("connection refused")

	policy := NewOraclePolicy(oracleFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", transport
	}))

	_, err := policy.Propose(context.Background(), triageSnapshot())
	if err == nil {
		t.Fatal("Propose() should fail when the oracle fails")
	}
	if !errors.Is(err, ErrOracle) {
		t.Errorf("Propose() error = %v, want %v", err, ErrOracle)
	}
}

func TestOraclePolicy_Propose_SendsRenderedPrompt(t *testing.T) {
	var captured string

	policy := NewOraclePolicy(oracleFunc(func(ctx context.Context, prompt string) (string, error) {
		captured = prompt
		return "B", nil
	}))

	snap := Snapshot{
		Current:       "A",
		Visited:       []machine.State{"A"},
		Possible:      []machine.State{"A", "B", "C"},
		ContextPrompt: "You route support tickets.",
		Instructions:  []string{"label the ticket"},
		Data:          map[string]any{"ticket": "T-42"},
	}

	if _, err := policy.Propose(context.Background(), snap); err != nil {
		t.Fatalf("Propose() failed: %v", err)
	}

	for _, want := range []string{
		"You route support tickets.",
		"Current state: A",
		"Visited states: A",
		"Possible states: A, B, C",
		"label the ticket",
		"ticket: T-42",
	} {
		if !strings.Contains(captured, want) {
			t.Errorf("prompt missing %q:\n%s", want, captured)
		}
	}
}

func TestOraclePolicy_Name(t *testing.T) {
	policy := NewOraclePolicy(oracleFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", nil
	}))

	if got := policy.Name(); got != "oracle" {
		t.Errorf("Name() = %v, want oracle", got)
	}
}

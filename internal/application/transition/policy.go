package transition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

var (
	// ErrNoSuccessor is returned when a table policy has no successor for
	// the current state
	ErrNoSuccessor = errors.New("no successor defined")

	// ErrOracle is returned when the decision oracle cannot be reached or
	// fails to answer
	ErrOracle = errors.New("oracle decision failed")
)

// Proposal sources
const (
	SourceOracle   = "oracle"
	SourceFallback = "fallback"
	SourceTable    = "table"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Snapshot is an immutable view of an entity handed to a policy for one
// proposal. Policies must not reach back into the entity.
type Snapshot struct {
	Current       machine.State
	Visited       []machine.State
	Possible      []machine.State
	ContextPrompt string
	Instructions  []string
	Data          map[string]any
}

// TakeSnapshot captures the entity's current situation along with the
// descriptions of the instructions active right now
func TakeSnapshot(e *machine.Entity, instructions machine.Instructions) Snapshot {
	return Snapshot{
		Current:       e.State(),
		Visited:       e.VisitedStates(),
		Possible:      e.PossibleStates(),
		ContextPrompt: e.ContextPrompt(),
		Instructions:  instructions.Active(e).Descriptions(),
		Data:          e.DataSnapshot(),
	}
}

// Prompt renders the snapshot as the text bundle sent to the decision
// oracle: the context prompt, the current state, the visited and possible
// states, the active instruction descriptions and the context pairs in
// sorted key order.
func (s Snapshot) Prompt() string {
	var b strings.Builder

	if s.ContextPrompt != "" {
		b.WriteString(s.ContextPrompt)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Current state: %s\n", s.Current)
	fmt.Fprintf(&b, "Visited states: %s\n", joinStates(s.Visited))
	fmt.Fprintf(&b, "Possible states: %s\n", joinStates(s.Possible))

	if len(s.Instructions) > 0 {
		b.WriteString("Active instructions:\n")
		b.WriteString(strings.Join(s.Instructions, "\n"))
		b.WriteString("\n")
	}

	if len(s.Data) > 0 {
		keys := make([]string, 0, len(s.Data))
		for k := range s.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, s.Data[k])
		}
	}

	return b.String()
}

// HasVisited returns true if the snapshot's visit history contains the state
func (s Snapshot) HasVisited(state machine.State) bool {
	for _, v := range s.Visited {
		if v == state {
			return true
		}
	}
	return false
}

// IsPossible returns true if the state is part of the snapshot's catalog
func (s Snapshot) IsPossible(state machine.State) bool {
	for _, p := range s.Possible {
		if p == state {
			return true
		}
	}
	return false
}

// Proposal is a policy's answer for one step. The state is always legal for
// the snapshot it was produced from.
type Proposal struct {
	// State is the next state to transition to
	State machine.State

	// Source records which mechanism produced the state
	Source string

	// Raw is the oracle's candidate before validation, empty for table
	// proposals
	Raw string

	// Fallback is true when the oracle's candidate was rejected and the
	// default fallback resolver chose the state instead
	Fallback bool

	// Stagnant is true when the fallback had no unvisited state left and
	// wrapped to the head of the catalog
	Stagnant bool
}

// Policy produces the next state for an entity. Implementations must be safe
// for sequential reuse across runs.
type Policy interface {
	// Propose returns a legal next state for the snapshot. Errors are
	// terminal for the run.
	Propose(ctx context.Context, snap Snapshot) (Proposal, error)

	// Name identifies the policy in logs and archived runs
	Name() string
}

// SuccessorChecker is implemented by policies backed by a static successor
// map. The execution loop uses it to detect dead ends as soon as they are
// entered.
type SuccessorChecker interface {
	HasSuccessor(s machine.State) bool
}

func joinStates(states []machine.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

package transition

import (
	"context"
	"fmt"

	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

// TablePolicy resolves the next state from a static successor map and never
// consults an oracle. A state without a successor is a dead end.
type TablePolicy struct {
	successors map[machine.State]machine.State
}

// NewTablePolicy creates a policy over a copy of the successor map
func NewTablePolicy(successors map[machine.State]machine.State) *TablePolicy {
	copied := make(map[machine.State]machine.State, len(successors))
	for from, to := range successors {
		copied[from] = to
	}
	return &TablePolicy{successors: copied}
}

// Name identifies the policy in logs and archived runs
func (p *TablePolicy) Name() string {
	return "table"
}

// HasSuccessor returns true if the state has a mapped successor
func (p *TablePolicy) HasSuccessor(s machine.State) bool {
	_, ok := p.successors[s]
	return ok
}

// Propose returns the mapped successor of the snapshot's current state or
// ErrNoSuccessor when the map has no entry for it
func (p *TablePolicy) Propose(ctx context.Context, snap Snapshot) (Proposal, error) {
	next, ok := p.successors[snap.Current]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: state %s", ErrNoSuccessor, snap.Current)
	}

	return Proposal{
		State:  next,
		Source: SourceTable,
	}, nil
}

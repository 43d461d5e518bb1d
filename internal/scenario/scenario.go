package scenario

import (
	"errors"
	"fmt"

	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

// Policy kinds a scenario can declare
const (
	PolicyOracle = "oracle"
	PolicyTable  = "table"
)

// ErrInvalid is returned when a scenario definition cannot be registered
var ErrInvalid = errors.New("invalid scenario")

// Scenario is a declarative run template: the state catalog, the policy
// that picks transitions, the instructions evaluated every iteration and
// the goal that ends the run. A scenario is immutable after registration;
// each run gets its own entity via NewEntity.
type Scenario struct {
	Name           string
	Description    string
	Policy         string
	InitialState   machine.State
	PossibleStates []machine.State
	ContextPrompt  string
	Goal           machine.GoalPredicate
	Instructions   machine.Instructions
	InitialData    map[string]any

	// Successors is the static transition table, only read when Policy
	// is PolicyTable
	Successors map[machine.State]machine.State

	// MaxIterations overrides the engine-wide cap when positive
	MaxIterations int
}

// Validate checks the definition before registration
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalid)
	}
	if s.Policy != PolicyOracle && s.Policy != PolicyTable {
		return fmt.Errorf("%w: %s has unknown policy %q", ErrInvalid, s.Name, s.Policy)
	}
	if s.Goal == nil {
		return fmt.Errorf("%w: %s has no goal", ErrInvalid, s.Name)
	}
	if len(s.PossibleStates) == 0 {
		return fmt.Errorf("%w: %s has no possible states", ErrInvalid, s.Name)
	}
	if !s.isPossible(s.InitialState) {
		return fmt.Errorf("%w: %s initial state %s is not in its catalog", ErrInvalid, s.Name, s.InitialState)
	}

	if s.Policy == PolicyTable {
		if len(s.Successors) == 0 {
			return fmt.Errorf("%w: %s declares the table policy without successors", ErrInvalid, s.Name)
		}
		for from, to := range s.Successors {
			if !s.isPossible(from) {
				return fmt.Errorf("%w: %s successor source %s is not in its catalog", ErrInvalid, s.Name, from)
			}
			if !s.isPossible(to) {
				return fmt.Errorf("%w: %s successor target %s is not in its catalog", ErrInvalid, s.Name, to)
			}
		}
	}

	return nil
}

// NewEntity builds a fresh entity for one run. Overrides are merged over
// the scenario's initial data key by key.
func (s *Scenario) NewEntity(overrides map[string]any) (*machine.Entity, error) {
	data := make(map[string]any, len(s.InitialData)+len(overrides))
	for k, v := range s.InitialData {
		data[k] = v
	}
	for k, v := range overrides {
		data[k] = v
	}

	return machine.NewEntity(s.InitialState, s.PossibleStates, s.Goal,
		machine.WithContextPrompt(s.ContextPrompt),
		machine.WithData(data),
	)
}

func (s *Scenario) isPossible(state machine.State) bool {
	for _, p := range s.PossibleStates {
		if p == state {
			return true
		}
	}
	return false
}

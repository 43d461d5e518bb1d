package machine

import (
	"fmt"
	"sort"
)

// GoalPredicate reports whether the entity has reached its goal. It receives
// a copy of the visited states in visit order and must not mutate the entity.
type GoalPredicate func(visited []State, e *Entity) bool

// ObserverFunc is invoked after every applied transition
type ObserverFunc func(from, to State)

// Entity is a state machine instance: a current state, the ordered catalog of
// possible states, the set of states visited so far and a mutable context bag.
// State only changes through TransitionTo; the context bag only changes
// through the data setters. An Entity is not safe for concurrent use.
type Entity struct {
	current         State
	possible        []State
	visited         []State
	visitedSet      map[State]bool
	data            map[string]any
	goal            GoalPredicate
	contextPrompt   string
	observer        ObserverFunc
	transitionCount uint64
}

// EntityOption configures an Entity at construction time
type EntityOption func(*Entity)

// WithContextPrompt sets the free-form prompt preamble surfaced to
// transition policies
func WithContextPrompt(prompt string) EntityOption {
	return func(e *Entity) {
		e.contextPrompt = prompt
	}
}

// WithData seeds the context bag with initial key/value pairs
func WithData(data map[string]any) EntityOption {
	return func(e *Entity) {
		for k, v := range data {
			e.data[k] = v
		}
	}
}

// WithObserver registers a callback invoked after every applied transition
func WithObserver(fn ObserverFunc) EntityOption {
	return func(e *Entity) {
		e.observer = fn
	}
}

// NewEntity creates an entity in the given initial state. The catalog must be
// non-empty and free of duplicates and empty names, the initial state must be
// part of the catalog and the goal predicate must be non-nil. The initial
// state counts as visited from the start.
func NewEntity(initial State, possible []State, goal GoalPredicate, opts ...EntityOption) (*Entity, error) {
	if len(possible) == 0 {
		return nil, fmt.Errorf("%w: possible states must not be empty", ErrInvalidConfig)
	}

	seen := make(map[State]bool, len(possible))
	for _, s := range possible {
		if s == "" {
			return nil, fmt.Errorf("%w: possible states must not contain an empty name", ErrInvalidConfig)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: duplicate possible state %s", ErrInvalidConfig, s)
		}
		seen[s] = true
	}

	if !seen[initial] {
		return nil, fmt.Errorf("%w: initial state %s is not a possible state", ErrInvalidConfig, initial)
	}

	if goal == nil {
		return nil, fmt.Errorf("%w: goal predicate must not be nil", ErrInvalidConfig)
	}

	e := &Entity{
		current:    initial,
		possible:   append([]State{}, possible...),
		visited:    []State{initial},
		visitedSet: map[State]bool{initial: true},
		data:       make(map[string]any),
		goal:       goal,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// State returns the current state
func (e *Entity) State() State {
	return e.current
}

// PossibleStates returns a copy of the state catalog in declaration order
func (e *Entity) PossibleStates() []State {
	return append([]State{}, e.possible...)
}

// VisitedStates returns a copy of the visited states in first-visit order.
// The current state and the initial state are always included.
func (e *Entity) VisitedStates() []State {
	return append([]State{}, e.visited...)
}

// HasVisited returns true if the entity has ever been in the given state
func (e *Entity) HasVisited(s State) bool {
	return e.visitedSet[s]
}

// TransitionCount returns the number of transitions applied so far,
// counting self-transitions and revisits
func (e *Entity) TransitionCount() uint64 {
	return e.transitionCount
}

// ContextPrompt returns the prompt preamble surfaced to transition policies
func (e *Entity) ContextPrompt() string {
	return e.contextPrompt
}

// GoalReached evaluates the goal predicate against the visited states
func (e *Entity) GoalReached() bool {
	return e.goal(e.VisitedStates(), e)
}

// TransitionTo moves the entity to the target state. The target must be part
// of the state catalog; transitions to the current state and to already
// visited states are legal. On success the visited set absorbs the target and
// the transition count increments.
func (e *Entity) TransitionTo(target State) error {
	if !e.isPossible(target) {
		return fmt.Errorf("%w: %s is not a possible state (current %s)", ErrInvalidTransition, target, e.current)
	}

	from := e.current
	e.current = target
	if !e.visitedSet[target] {
		e.visitedSet[target] = true
		e.visited = append(e.visited, target)
	}
	e.transitionCount++

	if e.observer != nil {
		e.observer(from, target)
	}

	return nil
}

// Data returns the context value stored under key
func (e *Entity) Data(key string) (any, bool) {
	v, ok := e.data[key]
	return v, ok
}

// RequireData returns the context value stored under key or
// ErrMissingContextKey when the key is absent
func (e *Entity) RequireData(key string) (any, error) {
	v, ok := e.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingContextKey, key)
	}
	return v, nil
}

// StringData returns the context value under key if it is a string
func (e *Entity) StringData(key string) (string, bool) {
	v, ok := e.data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntData returns the context value under key if it is an int
func (e *Entity) IntData(key string) (int, bool) {
	v, ok := e.data[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// BoolData returns the context value under key if it is a bool
func (e *Entity) BoolData(key string) (bool, bool) {
	v, ok := e.data[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// SetData stores a context value under key
func (e *Entity) SetData(key string, value any) {
	e.data[key] = value
}

// DeleteData removes the context value stored under key
func (e *Entity) DeleteData(key string) {
	delete(e.data, key)
}

// DataKeys returns the context keys in sorted order
func (e *Entity) DataKeys() []string {
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DataSnapshot returns a shallow copy of the context bag
func (e *Entity) DataSnapshot() map[string]any {
	snapshot := make(map[string]any, len(e.data))
	for k, v := range e.data {
		snapshot[k] = v
	}
	return snapshot
}

func (e *Entity) isPossible(s State) bool {
	for _, p := range e.possible {
		if p == s {
			return true
		}
	}
	return false
}

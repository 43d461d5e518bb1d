package machine

import "errors"

var (
	// ErrInvalidTransition is returned when a transition targets a state
	// outside the entity's catalog of possible states
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidConfig is returned when an entity is constructed with an
	// unusable state catalog, initial state or goal predicate
	ErrInvalidConfig = errors.New("invalid machine configuration")

	// ErrMissingContextKey is returned when a required context key is absent
	ErrMissingContextKey = errors.New("missing context key")
)

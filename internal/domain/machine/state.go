package machine

// State identifies a single state in an entity's catalog of possible states
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

package transition

import "github.com/geoffsee/agent-mst/internal/domain/machine"

// ResolveFallback deterministically picks a next state when a policy's
// candidate is unusable: the first possible state, in catalog order, that has
// not been visited yet. When every possible state has been visited it wraps
// to the head of the catalog and reports wrapped=true so callers can flag
// the run as stagnant.
func ResolveFallback(possible, visited []machine.State) (state machine.State, wrapped bool) {
	if len(possible) == 0 {
		return "", false
	}

	seen := make(map[machine.State]bool, len(visited))
	for _, v := range visited {
		seen[v] = true
	}

	for _, p := range possible {
		if !seen[p] {
			return p, false
		}
	}

	return possible[0], true
}

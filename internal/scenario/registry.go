package scenario

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the scenarios a deployment can run, keyed by name
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]*Scenario
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		scenarios: make(map[string]*Scenario),
	}
}

// Register validates the scenario and adds it. Names must be unique.
func (r *Registry) Register(s *Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenarios[s.Name]; exists {
		return fmt.Errorf("%w: %s is already registered", ErrInvalid, s.Name)
	}

	r.scenarios[s.Name] = s
	return nil
}

// Get looks up a scenario by name
func (r *Registry) Get(name string) (*Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scenarios[name]
	return s, ok
}

// List returns all scenarios sorted by name
func (r *Registry) List() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

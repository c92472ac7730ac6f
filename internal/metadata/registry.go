package metadata

import (
	"sort"
	"sync"

	"github.com/echo-music/echo-server/internal/errors"
)

// Registry holds the configured source agents. Agents are registered once at
// startup and served in ascending priority order; lookups by capability skip
// disabled agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	sorted []Agent // ascending priority, rebuilt on Register
}

// NewRegistry returns an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
	}
}

// Register adds an agent. The name must be unique.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return errors.Newf("cannot register nil agent").
			Component("metadata").
			Category(errors.CategoryValidation).
			Build()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; exists {
		return errors.Newf("agent %q already registered", name).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("agent", name).
			Build()
	}
	r.agents[name] = a
	r.sorted = append(r.sorted, a)
	sort.SliceStable(r.sorted, func(i, j int) bool {
		return r.sorted[i].Priority() < r.sorted[j].Priority()
	})
	return nil
}

// Get returns the agent with the given name, or nil if not registered.
func (r *Registry) Get(name string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// All returns every registered agent in ascending priority order, including
// disabled ones.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// WithCapability returns the enabled agents advertising the capability, in
// ascending priority order.
func (r *Registry) WithCapability(c Capability) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.sorted {
		if !a.Enabled() {
			continue
		}
		if HasCapability(a, c) {
			out = append(out, a)
		}
	}
	return out
}

// Searcher returns the highest-priority enabled agent that implements
// identifier search, or nil when none is available.
func (r *Registry) Searcher() IdentifierSearcher {
	for _, a := range r.WithCapability(CapabilityIdentifierSearch) {
		if s, ok := a.(IdentifierSearcher); ok {
			return s
		}
	}
	return nil
}

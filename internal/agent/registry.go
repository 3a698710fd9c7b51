package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent type identifiers to compiled-in agent instances.
// The composition root registers everything at startup; reads dominate
// afterward. There is no removal: agents are not hot-loaded.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its definition type. Registering the
// same type twice is a wiring bug and returns an error.
func (r *Registry) Register(a Agent) error {
	def := a.Definition()
	if def.Type == "" {
		return fmt.Errorf("agent registry: empty agent type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[def.Type]; exists {
		return fmt.Errorf("agent registry: type %q already registered", def.Type)
	}
	r.agents[def.Type] = a
	return nil
}

// Get returns the agent for the given type, or nil when unknown.
func (r *Registry) Get(agentType string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentType]
}

// All returns every registered agent, ordered by type for determinism.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	sort.Strings(types)
	out := make([]Agent, 0, len(types))
	for _, t := range types {
		out = append(out, r.agents[t])
	}
	return out
}

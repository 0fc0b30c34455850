// Package escalate resolves data gaps by walking the ledger's declared
// tool tiers in order until one satisfies the requested confidence or
// the ladder is exhausted.
package escalate

import (
	"context"
	"sync"

	"github.com/sells-group/sitescope/internal/model"
)

// Result is what a provider produced for one tier attempt. "No data
// found" is OutcomeInsufficient, never an error.
type Result struct {
	Outcome    model.TierOutcome
	Confidence float64
	Evidence   *model.Evidence
}

// Provider executes one tier's tool for a gap. Name matches the ledger
// step name; the ledger, not the provider, decides ordering and cost.
type Provider interface {
	Name() string
	Query(ctx context.Context, gap model.GapRequest) (*Result, error)
}

// Registry holds the providers available to the resolver, keyed by
// ledger step name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not registered.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

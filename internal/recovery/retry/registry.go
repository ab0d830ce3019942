package retry

import (
	"sync"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/events"
)

// PolicyRegistry is the runtime catalog of retry policies. Policies
// can be added, updated and removed without restart; changes are
// announced on the event bus.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]*domain.RetryPolicy
	bus      *events.Bus
}

// NewPolicyRegistry creates an empty registry. bus may be nil.
func NewPolicyRegistry(bus *events.Bus) *PolicyRegistry {
	return &PolicyRegistry{
		policies: make(map[string]*domain.RetryPolicy),
		bus:      bus,
	}
}

// Add registers a new policy. Fails if the id is already taken.
func (r *PolicyRegistry) Add(p *domain.RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.policies[p.ID]; exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("retry policy %s already registered", p.ID)
	}
	r.policies[p.ID] = p.Clone()
	r.mu.Unlock()

	r.notify(events.PolicyAdded, p.ID)
	return nil
}

// Update replaces an existing policy.
func (r *PolicyRegistry) Update(p *domain.RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.policies[p.ID]; !exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("unknown retry policy %s", p.ID)
	}
	r.policies[p.ID] = p.Clone()
	r.mu.Unlock()

	r.notify(events.PolicyUpdated, p.ID)
	return nil
}

// Remove deletes a policy by id.
func (r *PolicyRegistry) Remove(id string) error {
	r.mu.Lock()
	if _, exists := r.policies[id]; !exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("unknown retry policy %s", id)
	}
	delete(r.policies, id)
	r.mu.Unlock()

	r.notify(events.PolicyRemoved, id)
	return nil
}

// Get returns a copy of the policy, or a ConfigurationError if the id
// is unknown.
func (r *PolicyRegistry) Get(id string) (*domain.RetryPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, domain.NewConfigurationError("unknown retry policy %s", id)
	}
	return p.Clone(), nil
}

// List returns copies of all registered policies.
func (r *PolicyRegistry) List() []*domain.RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RetryPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p.Clone())
	}
	return out
}

func (r *PolicyRegistry) notify(t events.Type, id string) {
	if r.bus != nil {
		r.bus.Publish(t, events.CatalogPayload{ID: id})
	}
}

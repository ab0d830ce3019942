// Package strategy holds the catalog of recovery strategies and the
// weighted selector that matches them against failure contexts.
package strategy

import (
	"sync"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/events"
	"github.com/vietddude/relink/internal/recovery/metrics"
)

// emaAlpha is the smoothing factor for successRate / avgRecoveryTime.
const emaAlpha = 0.1

// Registry is the runtime catalog of recovery strategies. It owns the
// strategies' EMA fields: every update flows through RecordOutcome
// under the registry lock, so concurrent session completions cannot
// lose updates.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]*domain.RecoveryStrategy
	order      []string
	bus        *events.Bus
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		strategies: make(map[string]*domain.RecoveryStrategy),
		bus:        bus,
	}
}

// Add registers a new strategy. Registration order is remembered and
// breaks selection ties.
func (r *Registry) Add(s *domain.RecoveryStrategy) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.strategies[s.ID]; exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("recovery strategy %s already registered", s.ID)
	}
	r.strategies[s.ID] = s.Clone()
	r.order = append(r.order, s.ID)
	r.mu.Unlock()

	r.notify(events.StrategyAdded, s.ID)
	return nil
}

// Update replaces an existing strategy, keeping its original
// registration position.
func (r *Registry) Update(s *domain.RecoveryStrategy) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.strategies[s.ID]; !exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("unknown recovery strategy %s", s.ID)
	}
	r.strategies[s.ID] = s.Clone()
	r.mu.Unlock()

	r.notify(events.StrategyUpdated, s.ID)
	return nil
}

// Remove deletes a strategy by id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, exists := r.strategies[id]; !exists {
		r.mu.Unlock()
		return domain.NewConfigurationError("unknown recovery strategy %s", id)
	}
	delete(r.strategies, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.notify(events.StrategyRemoved, id)
	return nil
}

// Get returns a copy of the strategy by id.
func (r *Registry) Get(id string) (*domain.RecoveryStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, domain.NewConfigurationError("unknown recovery strategy %s", id)
	}
	return s.Clone(), nil
}

// List returns copies of all strategies in registration order.
func (r *Registry) List() []*domain.RecoveryStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RecoveryStrategy, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.strategies[id]; ok {
			out = append(out, s.Clone())
		}
	}
	return out
}

// RecordOutcome feeds a completed session's result into the strategy's
// EMAs: metric = metric*(1-α) + value*α. With success values in {0,1}
// and a starting rate below 1, the rate can approach but never reach 1.
func (r *Registry) RecordOutcome(id string, success bool, duration time.Duration) {
	r.mu.Lock()
	s, ok := r.strategies[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	value := 0.0
	if success {
		value = 1.0
	}
	s.SuccessRate = s.SuccessRate*(1-emaAlpha) + value*emaAlpha
	s.AvgRecoveryTime = s.AvgRecoveryTime*(1-emaAlpha) + float64(duration.Milliseconds())*emaAlpha

	rate := s.SuccessRate
	avg := s.AvgRecoveryTime
	r.mu.Unlock()

	metrics.StrategySuccessRate.WithLabelValues(id).Set(rate)
	if r.bus != nil {
		r.bus.Publish(events.StrategyMetricsUpdated, events.StrategyMetricsPayload{
			StrategyID:      id,
			SuccessRate:     rate,
			AvgRecoveryTime: avg,
		})
	}
}

func (r *Registry) notify(t events.Type, id string) {
	if r.bus != nil {
		r.bus.Publish(t, events.CatalogPayload{ID: id})
	}
}

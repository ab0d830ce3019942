// Package events provides the typed event bus used by the recovery
// engine. Each coordinator owns its own Bus; there is no process-global
// listener registry.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	SessionStarted         Type = "SESSION_STARTED"
	SessionCompleted       Type = "SESSION_COMPLETED"
	StrategyMetricsUpdated Type = "STRATEGY_METRICS_UPDATED"

	CircuitOpened   Type = "CIRCUIT_BREAKER_OPENED"
	CircuitHalfOpen Type = "CIRCUIT_BREAKER_HALF_OPEN"
	CircuitClosed   Type = "CIRCUIT_BREAKER_CLOSED"

	PolicyAdded     Type = "POLICY_ADDED"
	PolicyUpdated   Type = "POLICY_UPDATED"
	PolicyRemoved   Type = "POLICY_REMOVED"
	StrategyAdded   Type = "STRATEGY_ADDED"
	StrategyUpdated Type = "STRATEGY_UPDATED"
	StrategyRemoved Type = "STRATEGY_REMOVED"
)

// Event is the envelope for all engine events.
type Event struct {
	EventID   uuid.UUID `json:"event_id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// SessionStartedPayload accompanies SESSION_STARTED.
type SessionStartedPayload struct {
	SessionID  string `json:"session_id"`
	DeviceID   string `json:"device_id"`
	StrategyID string `json:"strategy_id"`
}

// SessionCompletedPayload accompanies SESSION_COMPLETED.
type SessionCompletedPayload struct {
	SessionID string        `json:"session_id"`
	DeviceID  string        `json:"device_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	State     string        `json:"state"`
}

// StrategyMetricsPayload accompanies STRATEGY_METRICS_UPDATED.
type StrategyMetricsPayload struct {
	StrategyID      string  `json:"strategy_id"`
	SuccessRate     float64 `json:"success_rate"`
	AvgRecoveryTime float64 `json:"avg_recovery_time_ms"`
}

// CircuitPayload accompanies circuit breaker transitions.
type CircuitPayload struct {
	OperationKey string `json:"operation_key"`
	FailureCount int    `json:"failure_count"`
}

// CatalogPayload accompanies policy/strategy CRUD events.
type CatalogPayload struct {
	ID string `json:"id"`
}

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling a
// recovery session.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(t Type, payload any) {
	ev := Event{
		EventID:   uuid.New(),
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

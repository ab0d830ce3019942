// Package breaker implements a per-operation-key circuit breaker
// guarding retryable operations against a peer that keeps failing.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// State represents the state of one operation key's circuit.
type State int

const (
	// StateClosed allows all calls.
	StateClosed State = iota
	// StateOpen blocks calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows exactly one probe call per cooldown.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// TransitionFunc is invoked after a state change, outside the key lock.
type TransitionFunc func(key string, from, to State, failureCount int)

// Stats is a snapshot of one key's circuit.
type Stats struct {
	Key             string
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	NextAttemptTime time.Time
}

type keyState struct {
	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	nextAttempt  time.Time
	probing      bool
}

// Breaker holds the circuit state for every operation key in the
// process. All mutation of a key's state happens under that key's
// mutex, so concurrent sessions invoking the same operation name
// cannot lose updates or double-open.
type Breaker struct {
	mu           sync.Mutex
	keys         map[string]*keyState
	onTransition TransitionFunc
	now          func() time.Time
}

// New creates a breaker. onTransition may be nil.
func New(onTransition TransitionFunc) *Breaker {
	return &Breaker{
		keys:         make(map[string]*keyState),
		onTransition: onTransition,
		now:          time.Now,
	}
}

func (b *Breaker) key(key string) *keyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.keys[key]
	if !ok {
		ks = &keyState{state: StateClosed}
		b.keys[key] = ks
	}
	return ks
}

// Allow reports whether a call for key may proceed. While open it
// fails fast with ErrCircuitOpen until the cooldown elapses; then the
// first caller wins the half-open probe slot and later callers keep
// failing fast until the probe resolves.
func (b *Breaker) Allow(key string) error {
	ks := b.key(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.state {
	case StateClosed:
		return nil

	case StateOpen:
		now := b.now()
		if now.Before(ks.nextAttempt) {
			return fmt.Errorf("%w: %s retries in %s",
				domain.ErrCircuitOpen, key, ks.nextAttempt.Sub(now).Round(time.Millisecond))
		}
		b.transition(key, ks, StateHalfOpen)
		ks.probing = true
		return nil

	case StateHalfOpen:
		if ks.probing {
			return fmt.Errorf("%w: %s probe in flight", domain.ErrCircuitOpen, key)
		}
		ks.probing = true
		return nil
	}

	return nil
}

// RecordSuccess resets the failure count for key and closes the
// circuit if it was open or half-open.
func (b *Breaker) RecordSuccess(key string) {
	ks := b.key(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.failureCount = 0
	ks.successCount++
	ks.probing = false
	if ks.state != StateClosed {
		b.transition(key, ks, StateClosed)
	}
}

// RecordFailure records one failed execution for key. When enabled and
// the consecutive failure count reaches threshold, the circuit opens
// with nextAttempt = now + openTimeout. A failed half-open probe
// reopens immediately.
func (b *Breaker) RecordFailure(key string, enabled bool, threshold int, openTimeout time.Duration) {
	ks := b.key(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.failureCount++
	ks.lastFailure = b.now()
	ks.probing = false

	if !enabled {
		return
	}

	switch ks.state {
	case StateHalfOpen:
		ks.nextAttempt = b.now().Add(openTimeout)
		b.transition(key, ks, StateOpen)
	case StateClosed:
		if ks.failureCount >= threshold {
			ks.nextAttempt = b.now().Add(openTimeout)
			b.transition(key, ks, StateOpen)
		}
	case StateOpen:
		// Already open; keep the existing cooldown.
	}
}

// GetStats returns a snapshot for key.
func (b *Breaker) GetStats(key string) Stats {
	ks := b.key(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()
	return Stats{
		Key:             key,
		State:           ks.state,
		FailureCount:    ks.failureCount,
		SuccessCount:    ks.successCount,
		LastFailureTime: ks.lastFailure,
		NextAttemptTime: ks.nextAttempt,
	}
}

// Keys returns all operation keys seen so far.
func (b *Breaker) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.keys))
	for k := range b.keys {
		out = append(out, k)
	}
	return out
}

// Reset forces a key back to closed. Used by operators after manual
// intervention.
func (b *Breaker) Reset(key string) {
	ks := b.key(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.failureCount = 0
	ks.successCount = 0
	ks.probing = false
	if ks.state != StateClosed {
		b.transition(key, ks, StateClosed)
	}
}

// transition changes state while ks.mu is held and schedules the
// callback on a fresh goroutine so listeners cannot deadlock the key.
func (b *Breaker) transition(key string, ks *keyState, to State) {
	from := ks.state
	if from == to {
		return
	}
	ks.state = to

	if b.onTransition != nil {
		failures := ks.failureCount
		go b.onTransition(key, from, to, failures)
	}
}

// SetClock overrides the time source. Tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

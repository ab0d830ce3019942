package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

const (
	testThreshold = 3
	testCooldown  = 30 * time.Second
)

// fakeClock gives tests control over the breaker's cooldown window.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(b *Breaker, key string, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure(key, true, testThreshold, testCooldown)
	}
}

// === state machine ===

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(nil)

	failN(b, "reconnect", testThreshold-1)
	if st := b.GetStats("reconnect").State; st != StateClosed {
		t.Fatalf("state below threshold = %v, want closed", st)
	}
	if err := b.Allow("reconnect"); err != nil {
		t.Fatalf("Allow while closed: %v", err)
	}

	failN(b, "reconnect", 1)
	if st := b.GetStats("reconnect").State; st != StateOpen {
		t.Fatalf("state at threshold = %v, want open", st)
	}
	err := b.Allow("reconnect")
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_DisabledNeverOpens(t *testing.T) {
	b := New(nil)

	for i := 0; i < testThreshold*3; i++ {
		b.RecordFailure("reconnect", false, testThreshold, testCooldown)
	}
	if st := b.GetStats("reconnect").State; st != StateClosed {
		t.Fatalf("disabled breaker state = %v, want closed", st)
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := New(nil)
	b.SetClock(clock.Now)

	failN(b, "reconnect", testThreshold)

	// Before the cooldown every caller fails fast.
	clock.Advance(testCooldown - time.Second)
	if err := b.Allow("reconnect"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow before cooldown = %v, want ErrCircuitOpen", err)
	}

	// After the cooldown the first caller wins the probe slot...
	clock.Advance(2 * time.Second)
	if err := b.Allow("reconnect"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	if st := b.GetStats("reconnect").State; st != StateHalfOpen {
		t.Fatalf("state after probe grant = %v, want half-open", st)
	}

	// ...and everyone else keeps failing fast until it resolves.
	if err := b.Allow("reconnect"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("second Allow during probe = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New(nil)
	b.SetClock(clock.Now)

	failN(b, "reconnect", testThreshold)
	clock.Advance(testCooldown + time.Second)
	if err := b.Allow("reconnect"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}

	b.RecordSuccess("reconnect")

	stats := b.GetStats("reconnect")
	if stats.State != StateClosed {
		t.Errorf("state after probe success = %v, want closed", stats.State)
	}
	if stats.FailureCount != 0 {
		t.Errorf("failureCount after success = %d, want 0", stats.FailureCount)
	}
	if err := b.Allow("reconnect"); err != nil {
		t.Errorf("Allow after close: %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New(nil)
	b.SetClock(clock.Now)

	failN(b, "reconnect", testThreshold)
	clock.Advance(testCooldown + time.Second)
	if err := b.Allow("reconnect"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}

	// One failed probe reopens immediately, no threshold counting.
	b.RecordFailure("reconnect", true, testThreshold, testCooldown)

	if st := b.GetStats("reconnect").State; st != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", st)
	}
	if err := b.Allow("reconnect"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow after failed probe = %v, want ErrCircuitOpen", err)
	}

	// The new cooldown starts from the probe failure.
	clock.Advance(testCooldown + time.Second)
	if err := b.Allow("reconnect"); err != nil {
		t.Fatalf("Allow after second cooldown: %v", err)
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New(nil)

	failN(b, "reconnect", testThreshold-1)
	b.RecordSuccess("reconnect")
	failN(b, "reconnect", testThreshold-1)

	if st := b.GetStats("reconnect").State; st != StateClosed {
		t.Fatalf("state after broken streak = %v, want closed", st)
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b := New(nil)

	failN(b, "reconnect", testThreshold)

	if err := b.Allow("reconnect"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow(reconnect) = %v, want ErrCircuitOpen", err)
	}
	if err := b.Allow("clear_cache"); err != nil {
		t.Fatalf("Allow(clear_cache) = %v, want nil", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := New(nil)

	failN(b, "reconnect", testThreshold)
	b.Reset("reconnect")

	stats := b.GetStats("reconnect")
	if stats.State != StateClosed || stats.FailureCount != 0 {
		t.Fatalf("stats after reset = %+v, want closed with zero failures", stats)
	}
}

// === transitions ===

func TestBreaker_TransitionCallback(t *testing.T) {
	type move struct{ from, to State }
	var mu sync.Mutex
	var moves []move
	fired := make(chan struct{}, 8)

	clock := newFakeClock()
	b := New(func(key string, from, to State, failures int) {
		mu.Lock()
		moves = append(moves, move{from, to})
		mu.Unlock()
		fired <- struct{}{}
	})
	b.SetClock(clock.Now)

	failN(b, "reconnect", testThreshold) // closed -> open
	clock.Advance(testCooldown + time.Second)
	if err := b.Allow("reconnect"); err != nil { // open -> half-open
		t.Fatalf("probe Allow: %v", err)
	}
	b.RecordSuccess("reconnect") // half-open -> closed

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("transition callback did not fire")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []move{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(moves) != len(want) {
		t.Fatalf("transitions = %v, want %v", moves, want)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, moves[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentProbeRace(t *testing.T) {
	clock := newFakeClock()
	b := New(nil)
	b.SetClock(clock.Now)

	failN(b, "reconnect", testThreshold)
	clock.Advance(testCooldown + time.Second)

	const callers = 16
	var granted int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if err := b.Allow("reconnect"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Fatalf("probe slots granted = %d, want exactly 1", granted)
	}
}

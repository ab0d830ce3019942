// Package session runs one recovery session end-to-end: the attempt
// loop for the chosen strategy, its ordered actions, and fallback
// escalation when the strategy's attempts are exhausted.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/infra/transport"
	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/metrics"
	"github.com/vietddude/relink/internal/recovery/strategy"
)

// levelOutcome is the result of running one strategy's attempt loop.
type levelOutcome int

const (
	levelSucceeded levelOutcome = iota
	levelAttemptFailed
	levelExhausted
	levelFatal
	levelCancelled
	levelRestored
)

// Session executes one chosen strategy (plus its fallback chain) for
// one device. Attempts run strictly sequentially; the only external
// interrupts are context cancellation and a restored notification.
type Session struct {
	id        string
	deviceID  string
	fctx      *domain.FailureContext
	transport transport.Transport
	registry  *strategy.Registry
	breaker   *breaker.Breaker
	log       *slog.Logger

	mu       sync.Mutex
	state    domain.SessionState
	attempts []domain.AttemptRecord
	errs     []string
	outcomes map[domain.ActionType]bool
	started  time.Time
	chain    []string

	restored     chan struct{}
	restoredOnce sync.Once

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a session for the given device. The registry is
// consulted for fallback strategies and receives the EMA feedback for
// every strategy level the session runs. brk guards action execution
// per action name and may be nil.
func New(deviceID string, fctx *domain.FailureContext, tr transport.Transport, reg *strategy.Registry, brk *breaker.Breaker, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:        uuid.New().String(),
		deviceID:  deviceID,
		fctx:      fctx,
		transport: tr,
		registry:  reg,
		breaker:   brk,
		log:       log,
		state:     domain.SessionCreated,
		outcomes:  make(map[domain.ActionType]bool),
		restored:  make(chan struct{}),
		sleep:     sleepCtx,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// DeviceID returns the device this session is recovering.
func (s *Session) DeviceID() string { return s.deviceID }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NotifyRestored tells the session its device reconnected on its own.
// The attempt loop resolves to Succeeded at the next check point.
func (s *Session) NotifyRestored() {
	s.restoredOnce.Do(func() { close(s.restored) })
}

// Bound returns the worst-case wall-clock time for one strategy level:
// the sum of inter-attempt delays plus MaxAttempts times the attempt
// budget (the sum of the per-action timeouts).
func Bound(st *domain.RecoveryStrategy) time.Duration {
	var delays time.Duration
	for attempt := 2; attempt <= st.MaxAttempts; attempt++ {
		delays += levelDelay(st, attempt)
	}

	var attemptBudget time.Duration
	for _, a := range st.Actions {
		t := a.Timeout
		if t <= 0 {
			t = defaultActionTimeout
		}
		attemptBudget += t
	}
	return delays + time.Duration(st.MaxAttempts)*attemptBudget
}

// Run executes the session to its single terminal state and returns
// the archived record. Cancellation via ctx yields Cancelled; a
// restored notification yields Succeeded; otherwise the strategy and
// its untried fallbacks decide.
func (s *Session) Run(ctx context.Context, primary *domain.RecoveryStrategy) *domain.SessionRecord {
	s.mu.Lock()
	s.state = domain.SessionRunning
	s.started = time.Now()
	s.mu.Unlock()

	tried := map[string]bool{primary.ID: true}
	s.chain = []string{primary.ID}
	current := primary
	final := domain.SessionFailed

	for {
		levelStart := time.Now()

		// Worst-case bound per level, enforced with a deadline.
		lctx, cancel := context.WithTimeout(ctx, Bound(current))
		out := s.runLevel(lctx, current)
		cancel()

		levelDur := time.Since(levelStart)

		switch out {
		case levelSucceeded, levelRestored:
			s.registry.RecordOutcome(current.ID, true, levelDur)
			final = domain.SessionSucceeded
		case levelCancelled:
			s.registry.RecordOutcome(current.ID, false, levelDur)
			final = domain.SessionCancelled
		case levelFatal:
			s.registry.RecordOutcome(current.ID, false, levelDur)
			final = domain.SessionFailed
		case levelExhausted:
			s.registry.RecordOutcome(current.ID, false, levelDur)
			if next := s.nextFallback(current, tried); next != nil {
				s.setState(domain.SessionEscalating)
				s.log.Info("Escalating to fallback strategy",
					"session", s.id, "device", s.deviceID,
					"from", current.ID, "to", next.ID)
				tried[next.ID] = true
				s.chain = append(s.chain, next.ID)
				current = next
				s.setState(domain.SessionRunning)
				continue
			}
			final = domain.SessionFailed
		}
		break
	}

	return s.finish(final, current.ID)
}

// runLevel executes one strategy's attempt loop.
func (s *Session) runLevel(ctx context.Context, st *domain.RecoveryStrategy) levelOutcome {
	for attempt := 1; attempt <= st.MaxAttempts; attempt++ {
		if attempt > 1 {
			if out, done := s.pause(ctx, levelDelay(st, attempt)); done {
				return out
			}
		}

		if out, done := s.checkInterrupts(ctx); done {
			return out
		}

		rec := domain.AttemptRecord{
			Number:    len(s.attempts) + 1,
			StartedAt: time.Now(),
		}
		out := s.runAttempt(ctx, st, attempt)
		rec.Duration = time.Since(rec.StartedAt)
		rec.Success = out == levelSucceeded

		s.mu.Lock()
		if n := len(s.errs); !rec.Success && n > 0 {
			rec.Error = s.errs[n-1]
		}
		s.attempts = append(s.attempts, rec)
		s.mu.Unlock()

		switch out {
		case levelSucceeded, levelRestored, levelFatal, levelCancelled:
			return out
		}
		// Attempt failed; fall through to the next one.
	}
	return levelExhausted
}

// pause sleeps the inter-attempt delay, waking early on cancellation
// or a restored notification.
func (s *Session) pause(ctx context.Context, d time.Duration) (levelOutcome, bool) {
	if d <= 0 {
		return 0, false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.restored:
		return levelRestored, true
	case <-ctx.Done():
		return s.cancelOutcome(ctx), true
	case <-t.C:
		return 0, false
	}
}

// checkInterrupts polls the restored signal before the context so a
// restore that races a deadline still resolves to Succeeded.
func (s *Session) checkInterrupts(ctx context.Context) (levelOutcome, bool) {
	select {
	case <-s.restored:
		return levelRestored, true
	default:
	}
	select {
	case <-ctx.Done():
		return s.cancelOutcome(ctx), true
	default:
		return 0, false
	}
}

// cancelOutcome distinguishes the per-level deadline (an exhausted
// level that may still escalate) from an outside cancellation.
func (s *Session) cancelOutcome(ctx context.Context) levelOutcome {
	if ctx.Err() == context.DeadlineExceeded {
		return levelExhausted
	}
	return levelCancelled
}

// levelDelay is the sleep before the given attempt within a level:
// baseDelay × multiplier^(attempt−1), clamped to MaxDelay.
func levelDelay(st *domain.RecoveryStrategy, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(st.BaseDelay)
	for i := 1; i < attempt-1; i++ {
		d *= st.BackoffMultiplier
	}
	if st.MaxDelay > 0 && d > float64(st.MaxDelay) {
		d = float64(st.MaxDelay)
	}
	return time.Duration(d)
}

// nextFallback returns a clone of the first fallback strategy not yet
// attempted in this escalation chain, or nil. Unknown ids are skipped.
func (s *Session) nextFallback(st *domain.RecoveryStrategy, tried map[string]bool) *domain.RecoveryStrategy {
	for _, id := range st.FallbackIDs {
		if tried[id] {
			continue
		}
		next, err := s.registry.Get(id)
		if err != nil {
			s.log.Warn("Fallback strategy not found", "session", s.id, "strategy", id)
			continue
		}
		return next
	}
	return nil
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) recordError(msg string) {
	s.mu.Lock()
	s.errs = append(s.errs, msg)
	s.mu.Unlock()
}

// finish seals the session into its terminal state and builds the
// archive record. Exactly one terminal outcome per session.
func (s *Session) finish(state domain.SessionState, strategyID string) *domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	ended := time.Now()

	rec := &domain.SessionRecord{
		ID:         s.id,
		DeviceID:   s.deviceID,
		StrategyID: strategyID,
		State:      state,
		Attempts:   len(s.attempts),
		StartedAt:  s.started,
		EndedAt:    ended,
		Success:    state == domain.SessionSucceeded,
		Metrics: domain.SessionMetrics{
			Attempts:       append([]domain.AttemptRecord(nil), s.attempts...),
			Errors:         append([]string(nil), s.errs...),
			ActionOutcomes: s.outcomes,
		},
	}
	if len(s.chain) > 1 {
		rec.EscalatedFrom = append([]string(nil), s.chain[:len(s.chain)-1]...)
	}

	outcome := string(state)
	metrics.SessionsCompleted.WithLabelValues(strategyID, outcome).Inc()
	metrics.SessionDuration.WithLabelValues(strategyID).Observe(ended.Sub(s.started).Seconds())
	return rec
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

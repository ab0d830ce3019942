package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/recovery/metrics"
)

// defaultActionTimeout bounds actions whose strategy did not set one.
const defaultActionTimeout = 30 * time.Second

// Breaker settings for the per-action-name circuits. Wait is exempt:
// it never touches the transport.
const (
	actionBreakerThreshold = 5
	actionBreakerCooldown  = 60 * time.Second
)

var errNotConfirmed = errors.New("transport did not confirm connectivity")

// runAttempt executes the strategy's ordered actions for one attempt.
// The first action confirming connectivity ends the session with
// success. A non-retryable action failure is fatal for the whole
// session; a retryable one fails the attempt and skips the rest of
// its actions.
func (s *Session) runAttempt(ctx context.Context, st *domain.RecoveryStrategy, attempt int) levelOutcome {
	for _, action := range st.Actions {
		if out, done := s.checkInterrupts(ctx); done {
			return out
		}

		confirmed, err := s.execAction(ctx, st, attempt, action)

		s.mu.Lock()
		s.outcomes[action.Type] = err == nil
		s.mu.Unlock()

		if err != nil {
			metrics.ActionsExecuted.WithLabelValues(string(action.Type), "failure").Inc()
			s.recordError(fmt.Sprintf("%s: %v", action.Type, err))
			s.log.Debug("Recovery action failed",
				"session", s.id, "device", s.deviceID,
				"action", action.Type, "attempt", attempt, "error", err)

			// An interrupt that landed mid-action surfaces as the
			// action's error; resolve it as an interrupt, not a failure.
			if out, done := s.checkInterrupts(ctx); done {
				return out
			}
			if !action.Retryable {
				return levelFatal
			}
			return levelAttemptFailed
		}

		metrics.ActionsExecuted.WithLabelValues(string(action.Type), "success").Inc()
		if confirmed {
			return levelSucceeded
		}
	}
	// Every action completed but none confirmed connectivity.
	s.recordError(fmt.Sprintf("attempt %d: no action confirmed connectivity", attempt))
	return levelAttemptFailed
}

// execAction runs one action against the transport, racing it against
// the action's own timeout. The action call is not forcibly
// interrupted; it observes its context and finishes or times out on
// its own.
func (s *Session) execAction(ctx context.Context, st *domain.RecoveryStrategy, attempt int, a domain.Action) (bool, error) {
	guarded := s.breaker != nil && a.Type != domain.ActionWait
	if guarded {
		if err := s.breaker.Allow(string(a.Type)); err != nil {
			return false, err
		}
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		confirmed bool
		err       error
	}
	done := make(chan outcome, 1)

	go func() {
		confirmed, err := s.invoke(actx, st, attempt, a)
		done <- outcome{confirmed: confirmed, err: err}
	}()

	var confirmed bool
	var err error
	select {
	case o := <-done:
		confirmed, err = o.confirmed, o.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: action %s exceeded %s", domain.ErrTimeout, a.Type, timeout)
		} else {
			err = actx.Err()
		}
	}

	if guarded {
		if err != nil {
			s.breaker.RecordFailure(string(a.Type), true, actionBreakerThreshold, actionBreakerCooldown)
		} else {
			s.breaker.RecordSuccess(string(a.Type))
		}
	}
	return confirmed, err
}

// invoke dispatches the action to the transport collaborator.
func (s *Session) invoke(ctx context.Context, st *domain.RecoveryStrategy, attempt int, a domain.Action) (bool, error) {
	switch a.Type {
	case domain.ActionWait:
		return false, s.sleep(ctx, s.waitDuration(st, attempt, a))

	case domain.ActionReconnect:
		return confirm(s.transport.Reconnect(ctx, s.deviceID))

	case domain.ActionResetConnection:
		if err := s.transport.ResetConnection(ctx, s.deviceID); err != nil {
			return false, err
		}
		return confirm(s.transport.Reconnect(ctx, s.deviceID))

	case domain.ActionClearCache:
		return false, s.transport.ClearCache(ctx, s.deviceID)

	case domain.ActionRestartService:
		return false, s.transport.Restart(ctx)

	case domain.ActionSwitchAdapter:
		adapterID, _ := a.Params["adapter_id"].(string)
		if adapterID == "" {
			return false, fmt.Errorf("switch_adapter: missing adapter_id param")
		}
		return confirm(s.transport.SwitchAdapter(ctx, adapterID))

	case domain.ActionReduceQuality:
		return confirm(s.transport.ReduceStreamingQuality(ctx, s.deviceID))
	}
	return false, fmt.Errorf("unknown action type %q", a.Type)
}

// confirm normalizes bool-returning transport calls: an unconfirmed
// result without an explicit error still fails the action.
func confirm(ok bool, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errNotConfirmed
	}
	return true, nil
}

// waitDuration resolves a wait action's duration. "calculated" reuses
// the attempt's backoff delay; otherwise the param is milliseconds or
// a Go duration string.
func (s *Session) waitDuration(st *domain.RecoveryStrategy, attempt int, a domain.Action) time.Duration {
	v, ok := a.Params["duration"]
	if !ok {
		return st.BaseDelay
	}

	switch d := v.(type) {
	case string:
		if d == domain.WaitCalculated {
			// Backoff delay for the *next* attempt slot; attempt 1
			// calculates to the base delay.
			return levelDelay(st, attempt+1)
		}
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case float64:
		return time.Duration(d) * time.Millisecond
	case time.Duration:
		return d
	}
	return st.BaseDelay
}

// Package retry executes operations under named retry policies with
// backoff, jitter, per-attempt timeouts, error classification and
// circuit breaker protection.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/metrics"
)

// Operation is the unit of work executed under retry. It must honor
// ctx cancellation; the engine races it against the per-attempt
// timeout when the policy sets one.
type Operation func(ctx context.Context) (any, error)

// AttemptDetail records the outcome of one attempt.
type AttemptDetail struct {
	Number    int
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// Result is the structured outcome of an ExecuteWithRetry call. The
// engine never fails on exhaustion; it reports everything here so the
// caller decides what to do.
type Result struct {
	Success       bool
	Value         any
	Err           error
	Attempts      int
	TotalDuration time.Duration
	Details       []AttemptDetail
}

// Engine runs operations under registered policies.
type Engine struct {
	policies *PolicyRegistry
	breaker  *breaker.Breaker

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine backed by the given policy registry and
// circuit breaker.
func NewEngine(policies *PolicyRegistry, brk *breaker.Breaker) *Engine {
	return &Engine{
		policies: policies,
		breaker:  brk,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
	}
}

// ExecuteWithRetry runs op under the named policy, using opName as the
// circuit breaker key. An unknown policyID fails synchronously with a
// ConfigurationError; every other outcome is reported in the Result.
func (e *Engine) ExecuteWithRetry(ctx context.Context, op Operation, policyID, opName string) (*Result, error) {
	policy, err := e.policies.Get(policyID)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	start := time.Now()
	defer func() { res.TotalDuration = time.Since(start) }()

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.delay(policy, attempt-1)); err != nil {
				res.Err = err
				return res, nil
			}
		}

		if err := e.breaker.Allow(opName); err != nil {
			metrics.RetryAttempts.WithLabelValues(policyID, opName, "circuit_open").Inc()
			res.Err = err
			return res, nil
		}

		detail := AttemptDetail{Number: attempt, StartedAt: time.Now()}
		value, opErr := e.runAttempt(ctx, op, policy.PerAttemptTimeout)
		detail.Duration = time.Since(detail.StartedAt)
		res.Attempts = attempt

		if opErr == nil {
			detail.Success = true
			res.Details = append(res.Details, detail)
			res.Success = true
			res.Value = value
			e.breaker.RecordSuccess(opName)
			metrics.RetryAttempts.WithLabelValues(policyID, opName, "success").Inc()
			return res, nil
		}

		detail.Error = opErr.Error()
		res.Details = append(res.Details, detail)
		lastErr = opErr
		metrics.RetryAttempts.WithLabelValues(policyID, opName, "failure").Inc()

		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res, nil
		}

		if !Classify(policy, opErr) {
			res.Err = fmt.Errorf("%w: %w", domain.ErrNonRetryable, opErr)
			e.recordFailure(policy, opName)
			return res, nil
		}

		// A retryable failure while the circuit is half-open was the
		// probe. The breaker has to hear about it before the next
		// attempt; deferring to exhaustion would leave the probe slot
		// held and every later call failing fast. The exhaustion path
		// below reports the final attempt itself.
		if attempt < policy.MaxAttempts && e.breaker.GetStats(opName).State == breaker.StateHalfOpen {
			e.recordFailure(policy, opName)
		}
	}

	res.Err = fmt.Errorf("%w: %d attempts: %w", domain.ErrRetryExhausted, policy.MaxAttempts, lastErr)
	e.recordFailure(policy, opName)
	return res, nil
}

// Classify reports whether err is retryable under the policy. The
// non-retryable list is checked first and wins; an error matching
// neither list is non-retryable. This precedence is load-bearing —
// see the regression tests before touching it.
func Classify(p *domain.RetryPolicy, err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, m := range p.NonRetryableErrors {
		if strings.Contains(msg, strings.ToLower(m)) {
			return false
		}
	}
	for _, m := range p.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// runAttempt executes op, racing it against the per-attempt timeout
// when one is set. The operation goroutine is left to observe its
// context; the engine does not wait for it past the deadline.
func (e *Engine) runAttempt(ctx context.Context, op Operation, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := op(actx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: attempt exceeded %s", domain.ErrTimeout, timeout)
		}
		return nil, actx.Err()
	}
}

func (e *Engine) delay(p *domain.RetryPolicy, failures int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Delay(p, failures, e.rng)
}

func (e *Engine) recordFailure(p *domain.RetryPolicy, opName string) {
	e.breaker.RecordFailure(opName, p.CircuitBreakerEnabled, p.FailureThreshold, p.OpenTimeout)
}

// SetSleep overrides the inter-attempt sleep. Tests only.
func (e *Engine) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
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

package domain

import "time"

// BackoffKind selects the delay growth curve between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
	BackoffFibonacci   BackoffKind = "fibonacci"
)

// RetryPolicy describes how a single operation is retried.
// Policies are immutable once registered; updates go through the registry.
type RetryPolicy struct {
	ID          string        `yaml:"id"            json:"id"`
	MaxAttempts int           `yaml:"max_attempts"  json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"    json:"base_delay"`
	Backoff     BackoffKind   `yaml:"backoff"       json:"backoff"`
	Multiplier  float64       `yaml:"multiplier"    json:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"     json:"max_delay"`

	// Jitter multiplies the computed delay by 1 + U(JitterMin, JitterMax).
	JitterEnabled bool    `yaml:"jitter_enabled" json:"jitter_enabled"`
	JitterMin     float64 `yaml:"jitter_min"     json:"jitter_min"`
	JitterMax     float64 `yaml:"jitter_max"     json:"jitter_max"`

	// Substring matchers against error messages. Non-retryable wins;
	// an error matching neither list is treated as non-retryable.
	RetryableErrors    []string `yaml:"retryable_errors"     json:"retryable_errors"`
	NonRetryableErrors []string `yaml:"non_retryable_errors" json:"non_retryable_errors"`

	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout" json:"per_attempt_timeout"`

	CircuitBreakerEnabled bool          `yaml:"circuit_breaker_enabled" json:"circuit_breaker_enabled"`
	FailureThreshold      int           `yaml:"failure_threshold"       json:"failure_threshold"`
	OpenTimeout           time.Duration `yaml:"open_timeout"            json:"open_timeout"`
}

// Validate checks structural invariants before a policy is registered.
func (p *RetryPolicy) Validate() error {
	if p.ID == "" {
		return NewConfigurationError("retry policy id is empty")
	}
	if p.MaxAttempts < 1 {
		return NewConfigurationError("retry policy %s: max_attempts must be >= 1", p.ID)
	}
	if p.BaseDelay < 0 {
		return NewConfigurationError("retry policy %s: base_delay must be >= 0", p.ID)
	}
	switch p.Backoff {
	case BackoffFixed, BackoffLinear, BackoffExponential, BackoffFibonacci:
	default:
		return NewConfigurationError("retry policy %s: unknown backoff kind %q", p.ID, p.Backoff)
	}
	if p.JitterEnabled && p.JitterMin > p.JitterMax {
		return NewConfigurationError("retry policy %s: jitter_min > jitter_max", p.ID)
	}
	if p.CircuitBreakerEnabled && p.FailureThreshold < 1 {
		return NewConfigurationError("retry policy %s: failure_threshold must be >= 1", p.ID)
	}
	return nil
}

// Clone returns a deep copy so callers can tune a policy without
// touching the registered instance.
func (p *RetryPolicy) Clone() *RetryPolicy {
	cp := *p
	cp.RetryableErrors = append([]string(nil), p.RetryableErrors...)
	cp.NonRetryableErrors = append([]string(nil), p.NonRetryableErrors...)
	return &cp
}

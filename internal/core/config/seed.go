package config

import (
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// DefaultPolicies are the retry policies seeded when the config file
// provides none.
func DefaultPolicies() []domain.RetryPolicy {
	return []domain.RetryPolicy{
		{
			ID:                    "default",
			MaxAttempts:           3,
			BaseDelay:             500 * time.Millisecond,
			Backoff:               domain.BackoffExponential,
			Multiplier:            2.0,
			MaxDelay:              30 * time.Second,
			JitterEnabled:         true,
			JitterMin:             -0.1,
			JitterMax:             0.1,
			RetryableErrors:       []string{"timeout", "connection reset", "temporarily unavailable", "unreachable"},
			NonRetryableErrors:    []string{"not paired", "unsupported", "invalid device"},
			PerAttemptTimeout:     10 * time.Second,
			CircuitBreakerEnabled: true,
			FailureThreshold:      5,
			OpenTimeout:           60 * time.Second,
		},
		{
			ID:                "aggressive",
			MaxAttempts:       6,
			BaseDelay:         200 * time.Millisecond,
			Backoff:           domain.BackoffFibonacci,
			Multiplier:        1.0,
			MaxDelay:          10 * time.Second,
			JitterEnabled:     true,
			JitterMin:         0,
			JitterMax:         0.25,
			RetryableErrors:   []string{"timeout", "busy", "connection reset", "unreachable"},
			PerAttemptTimeout: 5 * time.Second,
		},
		{
			ID:                    "conservative",
			MaxAttempts:           2,
			BaseDelay:             2 * time.Second,
			Backoff:               domain.BackoffFixed,
			Multiplier:            1.0,
			MaxDelay:              2 * time.Second,
			RetryableErrors:       []string{"timeout"},
			NonRetryableErrors:    []string{"not paired", "unsupported"},
			PerAttemptTimeout:     15 * time.Second,
			CircuitBreakerEnabled: true,
			FailureThreshold:      3,
			OpenTimeout:           2 * time.Minute,
		},
	}
}

// DefaultStrategies are the recovery strategies seeded when the
// config file provides none. quick-reconnect escalates through
// full-reset to adapter-failover; degraded-mode is the last resort
// for weak-signal devices.
func DefaultStrategies() []domain.RecoveryStrategy {
	return []domain.RecoveryStrategy{
		{
			ID:                "quick-reconnect",
			Name:              "Quick Reconnect",
			MaxAttempts:       3,
			BaseDelay:         500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxDelay:          10 * time.Second,
			SuccessRate:       0.8,
			AvgRecoveryTime:   3000,
			Conditions: []domain.Condition{
				{Type: domain.ConditionRetryCount, Operator: domain.OpLt, Value: 3, Weight: 1.0},
				{Type: domain.ConditionConnectionState, Operator: domain.OpNe, Value: "unstable", Weight: 0.5},
			},
			Actions: []domain.Action{
				{Type: domain.ActionReconnect, Timeout: 8 * time.Second, Retryable: true},
			},
			FallbackIDs: []string{"full-reset"},
		},
		{
			ID:                "full-reset",
			Name:              "Full Connection Reset",
			MaxAttempts:       2,
			BaseDelay:         2 * time.Second,
			BackoffMultiplier: 2.0,
			MaxDelay:          30 * time.Second,
			SuccessRate:       0.6,
			AvgRecoveryTime:   12000,
			Conditions: []domain.Condition{
				{Type: domain.ConditionRetryCount, Operator: domain.OpGte, Value: 3, Weight: 1.0},
				{Type: domain.ConditionErrorType, Operator: domain.OpIn, Value: []any{"gatt_error", "connection_lost"}, Weight: 0.8},
			},
			Actions: []domain.Action{
				{Type: domain.ActionClearCache, Timeout: 5 * time.Second, Retryable: true},
				{Type: domain.ActionResetConnection, Timeout: 15 * time.Second, Retryable: true},
			},
			FallbackIDs: []string{"adapter-failover"},
		},
		{
			ID:                "adapter-failover",
			Name:              "Adapter Failover",
			MaxAttempts:       2,
			BaseDelay:         1 * time.Second,
			BackoffMultiplier: 2.0,
			MaxDelay:          30 * time.Second,
			SuccessRate:       0.5,
			AvgRecoveryTime:   20000,
			Conditions: []domain.Condition{
				{Type: domain.ConditionRetryCount, Operator: domain.OpGte, Value: 5, Weight: 1.0},
			},
			Actions: []domain.Action{
				{Type: domain.ActionRestartService, Timeout: 20 * time.Second, Retryable: true},
				{Type: domain.ActionSwitchAdapter, Params: map[string]any{"adapter_id": "hci1"}, Timeout: 10 * time.Second, Retryable: false},
			},
			FallbackIDs: []string{"degraded-mode"},
		},
		{
			ID:                "degraded-mode",
			Name:              "Degraded Streaming Mode",
			MaxAttempts:       1,
			BaseDelay:         1 * time.Second,
			BackoffMultiplier: 1.5,
			MaxDelay:          10 * time.Second,
			SuccessRate:       0.4,
			AvgRecoveryTime:   8000,
			Conditions: []domain.Condition{
				{Type: domain.ConditionSignalStrength, Operator: domain.OpLt, Value: -80, Weight: 1.2},
			},
			Actions: []domain.Action{
				{Type: domain.ActionWait, Params: map[string]any{"duration": "calculated"}, Timeout: 15 * time.Second, Retryable: true},
				{Type: domain.ActionReduceQuality, Timeout: 5 * time.Second, Retryable: true},
				{Type: domain.ActionReconnect, Timeout: 10 * time.Second, Retryable: true},
			},
		},
	}
}

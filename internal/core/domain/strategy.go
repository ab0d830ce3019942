package domain

import "time"

// ConditionType selects which FailureContext field a condition reads.
type ConditionType string

const (
	ConditionSignalStrength   ConditionType = "signal_strength"
	ConditionErrorType        ConditionType = "error_type"
	ConditionConnectionState  ConditionType = "connection_state"
	ConditionRetryCount       ConditionType = "retry_count"
	ConditionTimeSinceFailure ConditionType = "time_since_failure"
)

// Operator compares a condition value against the context value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Condition is one weighted predicate of a strategy.
type Condition struct {
	Type     ConditionType `yaml:"type"     json:"type"`
	Operator Operator      `yaml:"operator" json:"operator"`
	Value    any           `yaml:"value"    json:"value"`
	Weight   float64       `yaml:"weight"   json:"weight"`
}

// ActionType identifies a recovery action executed against the transport.
type ActionType string

const (
	ActionWait            ActionType = "wait"
	ActionReconnect       ActionType = "reconnect"
	ActionResetConnection ActionType = "reset_connection"
	ActionClearCache      ActionType = "clear_cache"
	ActionRestartService  ActionType = "restart_service"
	ActionSwitchAdapter   ActionType = "switch_adapter"
	ActionReduceQuality   ActionType = "reduce_quality"
)

// WaitCalculated makes a wait action reuse the attempt's backoff delay
// instead of a fixed duration.
const WaitCalculated = "calculated"

// Action is one step of a strategy's attempt.
type Action struct {
	Type      ActionType     `yaml:"type"      json:"type"`
	Params    map[string]any `yaml:"params"    json:"params"`
	Timeout   time.Duration  `yaml:"timeout"   json:"timeout"`
	Retryable bool           `yaml:"retryable" json:"retryable"`
}

// RecoveryStrategy is a named plan for restoring connectivity:
// weighted selection conditions, an ordered action list per attempt,
// and a fallback chain for escalation. SuccessRate and AvgRecoveryTime
// are exponential moving averages maintained by the registry.
type RecoveryStrategy struct {
	ID                string        `yaml:"id"                 json:"id"`
	Name              string        `yaml:"name"               json:"name"`
	MaxAttempts       int           `yaml:"max_attempts"       json:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"         json:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"          json:"max_delay"`

	SuccessRate     float64 `yaml:"success_rate"      json:"success_rate"`      // EMA in [0,1)
	AvgRecoveryTime float64 `yaml:"avg_recovery_time" json:"avg_recovery_time"` // EMA, milliseconds

	Conditions  []Condition `yaml:"conditions"   json:"conditions"`
	Actions     []Action    `yaml:"actions"      json:"actions"`
	FallbackIDs []string    `yaml:"fallback_ids" json:"fallback_ids"`
}

// Validate checks structural invariants before a strategy is registered.
func (s *RecoveryStrategy) Validate() error {
	if s.ID == "" {
		return NewConfigurationError("recovery strategy id is empty")
	}
	if s.MaxAttempts < 1 {
		return NewConfigurationError("recovery strategy %s: max_attempts must be >= 1", s.ID)
	}
	if s.SuccessRate < 0 || s.SuccessRate >= 1 {
		return NewConfigurationError("recovery strategy %s: success_rate must be in [0,1)", s.ID)
	}
	if len(s.Actions) == 0 {
		return NewConfigurationError("recovery strategy %s: at least one action required", s.ID)
	}
	for i, a := range s.Actions {
		switch a.Type {
		case ActionWait, ActionReconnect, ActionResetConnection, ActionClearCache,
			ActionRestartService, ActionSwitchAdapter, ActionReduceQuality:
		default:
			return NewConfigurationError("recovery strategy %s: action %d has unknown type %q", s.ID, i, a.Type)
		}
	}
	return nil
}

// Clone returns a deep copy. Sessions always run against a clone so
// adaptive tuning never mutates the registered strategy.
func (s *RecoveryStrategy) Clone() *RecoveryStrategy {
	cp := *s
	cp.Conditions = append([]Condition(nil), s.Conditions...)
	cp.Actions = make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		cp.Actions[i] = a
		if a.Params != nil {
			params := make(map[string]any, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			cp.Actions[i].Params = params
		}
	}
	cp.FallbackIDs = append([]string(nil), s.FallbackIDs...)
	return &cp
}

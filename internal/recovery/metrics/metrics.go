package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted tracks recovery sessions started per strategy
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_sessions_started_total",
			Help: "Total number of recovery sessions started",
		},
		[]string{"strategy"},
	)

	// SessionsCompleted tracks terminal session outcomes per strategy
	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_sessions_completed_total",
			Help: "Total number of recovery sessions completed",
		},
		[]string{"strategy", "outcome"},
	)

	// SessionDuration tracks wall-clock session duration
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relink_session_duration_seconds",
			Help:    "Recovery session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"strategy"},
	)

	// ActiveSessions tracks currently running sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relink_active_sessions",
			Help: "Number of currently active recovery sessions",
		},
	)

	// RetryAttempts tracks retry engine attempts per policy and operation
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"policy", "operation", "outcome"},
	)

	// CircuitState tracks breaker state per operation key (0=closed, 1=open, 2=half-open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relink_circuit_state",
			Help: "Circuit breaker state per operation key",
		},
		[]string{"operation"},
	)

	// CircuitTransitions tracks breaker state changes
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"operation", "to"},
	)

	// ActionsExecuted tracks recovery actions per type and outcome
	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_actions_executed_total",
			Help: "Total number of recovery actions executed",
		},
		[]string{"action", "outcome"},
	)

	// StrategySuccessRate exposes each strategy's success rate EMA
	StrategySuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relink_strategy_success_rate",
			Help: "Exponential moving average of strategy success rate",
		},
		[]string{"strategy"},
	)

	// EventsDropped tracks failure events rejected by the coordinator
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relink_events_dropped_total",
			Help: "Failure events not turned into sessions",
		},
		[]string{"reason"},
	)
)

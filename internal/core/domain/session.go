package domain

import "time"

// SessionState is the lifecycle state of a recovery session.
type SessionState string

const (
	SessionCreated    SessionState = "created"
	SessionRunning    SessionState = "running"
	SessionEscalating SessionState = "escalating"
	SessionSucceeded  SessionState = "succeeded"
	SessionFailed     SessionState = "failed"
	SessionCancelled  SessionState = "cancelled"
)

// Terminal reports whether the state is a final outcome.
func (s SessionState) Terminal() bool {
	return s == SessionSucceeded || s == SessionFailed || s == SessionCancelled
}

// AttemptRecord is the outcome of one attempt within a session.
type AttemptRecord struct {
	Number    int           `json:"number"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// SessionMetrics aggregates what a completed session observed.
type SessionMetrics struct {
	Attempts []AttemptRecord `json:"attempts"`
	Errors   []string        `json:"errors"`

	// ActionOutcomes records, per action type used, whether its last
	// execution in this session succeeded.
	ActionOutcomes map[ActionType]bool `json:"action_outcomes"`
}

// SessionRecord is the archived form of a completed recovery session.
// The coordinator keeps a capped in-memory history of these; durable
// archiving is a collaborator concern.
type SessionRecord struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	StrategyID string         `json:"strategy_id"`
	State      SessionState   `json:"state"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Success    bool           `json:"success"`
	Metrics    SessionMetrics `json:"metrics"`

	// EscalatedFrom lists the strategy ids already tried in this
	// session's escalation chain, in order.
	EscalatedFrom []string `json:"escalated_from,omitempty"`
}

// Duration returns total wall-clock time of the session.
func (r *SessionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

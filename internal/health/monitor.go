package health

import (
	"time"

	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/coordinator"
)

// Status levels for the engine health report.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// DeviceHealth summarizes one device's recovery situation.
type DeviceHealth struct {
	ActiveSession  bool `json:"active_session"`
	RecentFailures int  `json:"recent_failures"`
}

// Report is the aggregated engine health snapshot.
type Report struct {
	Status         string                  `json:"status"`
	ActiveSessions int                     `json:"active_sessions"`
	MaxSessions    int                     `json:"max_sessions"`
	Devices        map[string]DeviceHealth `json:"devices"`
	Circuits       []CircuitHealth         `json:"circuits"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// CircuitHealth is the exported view of one breaker key.
type CircuitHealth struct {
	Key          string    `json:"key"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	NextAttempt  time.Time `json:"next_attempt,omitempty"`
}

// Monitor builds health reports from the coordinator and breaker.
type Monitor struct {
	coord       *coordinator.Coordinator
	brk         *breaker.Breaker
	maxSessions int
	window      time.Duration
}

// NewMonitor creates a monitor. window is the failure lookback for
// per-device counts.
func NewMonitor(coord *coordinator.Coordinator, brk *breaker.Breaker, maxSessions int, window time.Duration) *Monitor {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Monitor{
		coord:       coord,
		brk:         brk,
		maxSessions: maxSessions,
		window:      window,
	}
}

// CheckHealth assembles the current report. Open circuits degrade the
// status; a saturated session pool is critical.
func (m *Monitor) CheckHealth() Report {
	now := time.Now()
	report := Report{
		Status:         StatusHealthy,
		ActiveSessions: m.coord.ActiveCount(),
		MaxSessions:    m.maxSessions,
		Devices:        make(map[string]DeviceHealth),
		UpdatedAt:      now,
	}

	since := now.Add(-m.window)
	for _, dev := range m.coord.ActiveDevices() {
		report.Devices[dev] = DeviceHealth{
			ActiveSession:  true,
			RecentFailures: m.coord.History().FailureCountSince(dev, since),
		}
	}

	for _, key := range m.brk.Keys() {
		stats := m.brk.GetStats(key)
		ch := CircuitHealth{
			Key:          key,
			State:        stats.State.String(),
			FailureCount: stats.FailureCount,
		}
		if stats.State == breaker.StateOpen {
			ch.NextAttempt = stats.NextAttemptTime
			report.Status = StatusDegraded
		}
		report.Circuits = append(report.Circuits, ch)
	}

	if m.maxSessions > 0 && report.ActiveSessions >= m.maxSessions {
		report.Status = StatusCritical
	}
	return report
}

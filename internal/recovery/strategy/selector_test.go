package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

type stubHistory struct {
	records map[string][]domain.SessionRecord
}

func (h *stubHistory) RecentSessions(deviceID string, limit int) []domain.SessionRecord {
	list := h.records[deviceID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func testStrategy(id string) *domain.RecoveryStrategy {
	return &domain.RecoveryStrategy{
		ID:                id,
		Name:              id,
		MaxAttempts:       2,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		Actions:           []domain.Action{{Type: domain.ActionReconnect, Retryable: true}},
	}
}

func mustAdd(t *testing.T, r *Registry, s *domain.RecoveryStrategy) {
	t.Helper()
	if err := r.Add(s); err != nil {
		t.Fatalf("Add(%s): %v", s.ID, err)
	}
}

func signal(v float64) *float64 { return &v }

// === scoring ===

func TestScore_Formula(t *testing.T) {
	sel := NewSelector(NewRegistry(nil), nil, false)

	st := testStrategy("s")
	st.SuccessRate = 0.8
	st.AvgRecoveryTime = 30000 // ms
	st.Conditions = []domain.Condition{
		{Type: domain.ConditionErrorType, Operator: domain.OpEq, Value: "timeout", Weight: 0.6},
		{Type: domain.ConditionSignalStrength, Operator: domain.OpLt, Value: -70.0, Weight: 0.4},
		{Type: domain.ConditionConnectionState, Operator: domain.OpEq, Value: "connected", Weight: 0.5},
	}

	fctx := &domain.FailureContext{
		DeviceID:        "dev-1",
		Timestamp:       time.Now(),
		ErrorType:       "timeout",
		SignalStrength:  signal(-80),
		ConnectionState: domain.StateDisconnected,
	}

	// Matching weights 0.6 + 0.4 = 1.0; the connection_state condition
	// misses. Score = 1.0×0.8 + (1 − 30000/60000)×0.2 = 0.9.
	got := sel.Score(st, fctx)
	if math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("Score = %v, want 0.9", got)
	}
}

func TestScore_TimeBonusNeverNegative(t *testing.T) {
	sel := NewSelector(NewRegistry(nil), nil, false)

	st := testStrategy("s")
	st.SuccessRate = 0.5
	st.AvgRecoveryTime = 120000 // slower than the 60s pivot

	fctx := &domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()}
	if got := sel.Score(st, fctx); got != 0 {
		t.Fatalf("Score with no matches and slow EMA = %v, want 0", got)
	}
}

// === selection ===

func TestSelect_EmptyRegistry(t *testing.T) {
	sel := NewSelector(NewRegistry(nil), nil, false)

	_, err := sel.Select(&domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestSelect_HighestScoreWins(t *testing.T) {
	reg := NewRegistry(nil)

	weak := testStrategy("weak")
	weak.SuccessRate = 0.3
	weak.Conditions = []domain.Condition{
		{Type: domain.ConditionErrorType, Operator: domain.OpEq, Value: "timeout", Weight: 1.0},
	}
	strong := testStrategy("strong")
	strong.SuccessRate = 0.9
	strong.Conditions = []domain.Condition{
		{Type: domain.ConditionErrorType, Operator: domain.OpEq, Value: "timeout", Weight: 1.0},
	}
	mustAdd(t, reg, weak)
	mustAdd(t, reg, strong)

	sel := NewSelector(reg, nil, false)
	got, err := sel.Select(&domain.FailureContext{
		DeviceID: "dev-1", Timestamp: time.Now(), ErrorType: "timeout",
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "strong" {
		t.Fatalf("selected %s, want strong", got.ID)
	}
}

func TestSelect_TieGoesToFirstRegistered(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, testStrategy("first"))
	mustAdd(t, reg, testStrategy("second"))
	mustAdd(t, reg, testStrategy("third"))

	sel := NewSelector(reg, nil, false)
	got, err := sel.Select(&domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "first" {
		t.Fatalf("selected %s on tie, want first", got.ID)
	}
}

func TestSelect_ReturnsClone(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, testStrategy("s"))

	sel := NewSelector(reg, nil, false)
	got, err := sel.Select(&domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	got.MaxAttempts = 99
	stored, err := reg.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.MaxAttempts != 2 {
		t.Fatalf("registered strategy mutated through the selection clone")
	}
}

// === conditions ===

func TestEvaluate_Operators(t *testing.T) {
	sel := NewSelector(NewRegistry(nil), nil, false)

	fctx := &domain.FailureContext{
		DeviceID:             "dev-1",
		Timestamp:            time.Now().Add(-10 * time.Second),
		ErrorType:            "gatt_timeout",
		SignalStrength:       signal(-75),
		ConnectionState:      domain.StateDisconnected,
		PreviousFailureCount: 3,
	}

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"signal lt match", domain.Condition{Type: domain.ConditionSignalStrength, Operator: domain.OpLt, Value: -70.0}, true},
		{"signal gte miss", domain.Condition{Type: domain.ConditionSignalStrength, Operator: domain.OpGte, Value: -70.0}, false},
		{"signal int threshold", domain.Condition{Type: domain.ConditionSignalStrength, Operator: domain.OpGt, Value: -80}, true},
		{"error eq", domain.Condition{Type: domain.ConditionErrorType, Operator: domain.OpEq, Value: "gatt_timeout"}, true},
		{"error ne", domain.Condition{Type: domain.ConditionErrorType, Operator: domain.OpNe, Value: "auth_failed"}, true},
		{"error contains", domain.Condition{Type: domain.ConditionErrorType, Operator: domain.OpContains, Value: "timeout"}, true},
		{"error in", domain.Condition{Type: domain.ConditionErrorType, Operator: domain.OpIn, Value: []any{"auth_failed", "gatt_timeout"}}, true},
		{"error in miss", domain.Condition{Type: domain.ConditionErrorType, Operator: domain.OpIn, Value: []any{"auth_failed"}}, false},
		{"state eq", domain.Condition{Type: domain.ConditionConnectionState, Operator: domain.OpEq, Value: "disconnected"}, true},
		{"retry count gte", domain.Condition{Type: domain.ConditionRetryCount, Operator: domain.OpGte, Value: 3}, true},
		{"retry count in", domain.Condition{Type: domain.ConditionRetryCount, Operator: domain.OpIn, Value: []any{1, 3, 5}}, true},
		{"time since failure gt", domain.Condition{Type: domain.ConditionTimeSinceFailure, Operator: domain.OpGt, Value: 5000}, true},
		{"time since failure lt miss", domain.Condition{Type: domain.ConditionTimeSinceFailure, Operator: domain.OpLt, Value: 5000}, false},
		{"unknown type", domain.Condition{Type: "battery_level", Operator: domain.OpGt, Value: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sel.evaluate(tc.cond, fctx); got != tc.want {
				t.Errorf("evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluate_MissingSignalStrength(t *testing.T) {
	sel := NewSelector(NewRegistry(nil), nil, false)

	fctx := &domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()}
	cond := domain.Condition{Type: domain.ConditionSignalStrength, Operator: domain.OpLt, Value: -70.0}
	if sel.evaluate(cond, fctx) {
		t.Fatal("condition matched with no signal strength in context")
	}
}

// === adaptive tuning ===

func TestSelect_AdaptiveTunesCloneOnly(t *testing.T) {
	reg := NewRegistry(nil)
	st := testStrategy("s")
	st.AvgRecoveryTime = 1000 // ms
	mustAdd(t, reg, st)

	// Recent attempts run far longer than the strategy's EMA.
	hist := &stubHistory{records: map[string][]domain.SessionRecord{
		"dev-1": {{
			DeviceID: "dev-1",
			Metrics: domain.SessionMetrics{Attempts: []domain.AttemptRecord{
				{Number: 1, Duration: 5 * time.Second},
				{Number: 2, Duration: 5 * time.Second},
			}},
		}},
	}}

	sel := NewSelector(reg, hist, true)
	got, err := sel.Select(&domain.FailureContext{DeviceID: "dev-1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	want := 2.0 * increaseStep
	if math.Abs(got.BackoffMultiplier-want) > 1e-9 {
		t.Errorf("tuned multiplier = %v, want %v", got.BackoffMultiplier, want)
	}

	stored, _ := reg.Get("s")
	if stored.BackoffMultiplier != 2.0 {
		t.Errorf("registered multiplier = %v, tuning must not touch the registry", stored.BackoffMultiplier)
	}
}

package strategy

import (
	"strings"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// HistoryProvider exposes recent completed sessions for a device.
// Implemented by the coordinator's in-memory history.
type HistoryProvider interface {
	RecentSessions(deviceID string, limit int) []domain.SessionRecord
}

// Selector scores registered strategies against a failure context and
// picks the best match, optionally tuning the winner from history.
type Selector struct {
	registry *Registry
	history  HistoryProvider
	adaptive bool
	now      func() time.Time
}

// NewSelector creates a selector. history may be nil, which disables
// adaptive tuning.
func NewSelector(registry *Registry, history HistoryProvider, adaptive bool) *Selector {
	return &Selector{
		registry: registry,
		history:  history,
		adaptive: adaptive && history != nil,
		now:      time.Now,
	}
}

// Select returns a clone of the best-scoring strategy for fctx. Ties
// go to the earliest registered strategy. An empty registry is a
// ConfigurationError.
func (s *Selector) Select(fctx *domain.FailureContext) (*domain.RecoveryStrategy, error) {
	candidates := s.registry.List()
	if len(candidates) == 0 {
		return nil, domain.NewConfigurationError("no recovery strategies registered")
	}

	var best *domain.RecoveryStrategy
	bestScore := -1.0
	for _, cand := range candidates {
		// Strictly-greater keeps the first registered winner on ties.
		if score := s.Score(cand, fctx); score > bestScore {
			best = cand
			bestScore = score
		}
	}

	if s.adaptive {
		Tune(best, s.history.RecentSessions(fctx.DeviceID, adaptiveWindow))
	}
	return best, nil
}

// Score computes the selection score:
//
//	Σ weight(matching conditions) × successRate + timeBonus
//
// where timeBonus = max(0, 1 − avgRecoveryTime/60000) × 0.2. The
// formula is intentionally kept as-is, unnormalized bonus included.
func (s *Selector) Score(st *domain.RecoveryStrategy, fctx *domain.FailureContext) float64 {
	var weightSum float64
	for _, c := range st.Conditions {
		if s.evaluate(c, fctx) {
			weightSum += c.Weight
		}
	}

	timeBonus := (1 - st.AvgRecoveryTime/60000) * 0.2
	if timeBonus < 0 {
		timeBonus = 0
	}
	return weightSum*st.SuccessRate + timeBonus
}

func (s *Selector) evaluate(c domain.Condition, fctx *domain.FailureContext) bool {
	switch c.Type {
	case domain.ConditionSignalStrength:
		if fctx.SignalStrength == nil {
			return false
		}
		return compareNumeric(c.Operator, *fctx.SignalStrength, c.Value)

	case domain.ConditionErrorType:
		return compareString(c.Operator, fctx.ErrorType, c.Value)

	case domain.ConditionConnectionState:
		return compareString(c.Operator, string(fctx.ConnectionState), c.Value)

	case domain.ConditionRetryCount:
		return compareNumeric(c.Operator, float64(fctx.PreviousFailureCount), c.Value)

	case domain.ConditionTimeSinceFailure:
		elapsed := float64(s.now().Sub(fctx.Timestamp).Milliseconds())
		return compareNumeric(c.Operator, elapsed, c.Value)
	}
	return false
}

func compareNumeric(op domain.Operator, actual float64, expected any) bool {
	switch op {
	case domain.OpIn:
		for _, v := range toSlice(expected) {
			if want, ok := toFloat(v); ok && actual == want {
				return true
			}
		}
		return false
	}

	want, ok := toFloat(expected)
	if !ok {
		return false
	}
	switch op {
	case domain.OpEq:
		return actual == want
	case domain.OpNe:
		return actual != want
	case domain.OpGt:
		return actual > want
	case domain.OpLt:
		return actual < want
	case domain.OpGte:
		return actual >= want
	case domain.OpLte:
		return actual <= want
	}
	return false
}

func compareString(op domain.Operator, actual string, expected any) bool {
	switch op {
	case domain.OpIn:
		for _, v := range toSlice(expected) {
			if s, ok := v.(string); ok && actual == s {
				return true
			}
		}
		return false
	}

	want, ok := expected.(string)
	if !ok {
		return false
	}
	switch op {
	case domain.OpEq:
		return actual == want
	case domain.OpNe:
		return actual != want
	case domain.OpContains:
		return strings.Contains(actual, want)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

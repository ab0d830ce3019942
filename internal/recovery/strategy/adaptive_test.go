package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

func recordsWithAttemptDuration(d time.Duration, attempts int) []domain.SessionRecord {
	recs := make([]domain.AttemptRecord, attempts)
	for i := range recs {
		recs[i] = domain.AttemptRecord{Number: i + 1, Duration: d}
	}
	return []domain.SessionRecord{{DeviceID: "dev-1", Metrics: domain.SessionMetrics{Attempts: recs}}}
}

func TestTune(t *testing.T) {
	cases := []struct {
		name       string
		multiplier float64
		avgMs      float64
		attemptDur time.Duration
		want       float64
	}{
		{"slow attempts back off harder", 2.0, 1000, 2 * time.Second, 2.0 * increaseStep},
		{"fast attempts back off less", 2.0, 1000, 500 * time.Millisecond, 2.0 * decreaseStep},
		{"in-band ratio unchanged", 2.0, 1000, time.Second, 2.0},
		{"increase clamps to cap", 2.9, 1000, 10 * time.Second, multiplierCap},
		{"decrease clamps to floor", 1.15, 1000, 100 * time.Millisecond, multiplierMin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := testStrategy("s")
			st.BackoffMultiplier = tc.multiplier
			st.AvgRecoveryTime = tc.avgMs

			Tune(st, recordsWithAttemptDuration(tc.attemptDur, 3))
			if math.Abs(st.BackoffMultiplier-tc.want) > 1e-9 {
				t.Errorf("multiplier = %v, want %v", st.BackoffMultiplier, tc.want)
			}
		})
	}
}

func TestTune_NoHistoryOrNoEMA(t *testing.T) {
	st := testStrategy("s")
	st.BackoffMultiplier = 2.0
	st.AvgRecoveryTime = 0

	Tune(st, recordsWithAttemptDuration(10*time.Second, 3))
	if st.BackoffMultiplier != 2.0 {
		t.Errorf("multiplier changed with zero EMA: %v", st.BackoffMultiplier)
	}

	st.AvgRecoveryTime = 1000
	Tune(st, nil)
	if st.BackoffMultiplier != 2.0 {
		t.Errorf("multiplier changed with no history: %v", st.BackoffMultiplier)
	}

	// Records without attempts carry no signal.
	Tune(st, []domain.SessionRecord{{DeviceID: "dev-1"}})
	if st.BackoffMultiplier != 2.0 {
		t.Errorf("multiplier changed with empty attempt lists: %v", st.BackoffMultiplier)
	}
}

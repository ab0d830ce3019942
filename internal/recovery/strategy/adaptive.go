package strategy

import "github.com/vietddude/relink/internal/core/domain"

// Adaptive tuning thresholds. When recent attempts run long compared
// to the strategy's recovery-time EMA, back off harder; when they run
// short, back off less.
const (
	adaptiveWindow = 10

	slowRatio     = 1.5
	fastRatio     = 0.7
	increaseStep  = 1.2
	decreaseStep  = 0.9
	multiplierCap = 3.0
	multiplierMin = 1.1
)

// Tune adjusts a session clone's backoff multiplier from the device's
// recent history. The registered strategy is never touched; only the
// clone handed to the session changes.
func Tune(st *domain.RecoveryStrategy, recent []domain.SessionRecord) {
	if len(recent) == 0 || st.AvgRecoveryTime <= 0 {
		return
	}

	var totalMs float64
	var count int
	for _, rec := range recent {
		for _, att := range rec.Metrics.Attempts {
			totalMs += float64(att.Duration.Milliseconds())
			count++
		}
	}
	if count == 0 {
		return
	}

	ratio := (totalMs / float64(count)) / st.AvgRecoveryTime
	switch {
	case ratio > slowRatio:
		st.BackoffMultiplier *= increaseStep
		if st.BackoffMultiplier > multiplierCap {
			st.BackoffMultiplier = multiplierCap
		}
	case ratio < fastRatio:
		st.BackoffMultiplier *= decreaseStep
		if st.BackoffMultiplier < multiplierMin {
			st.BackoffMultiplier = multiplierMin
		}
	}
}

package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// Delay computes the sleep after the n-th failed attempt (n >= 1),
// i.e. the pause before attempt n+1. The raw curve is clamped to
// MaxDelay before jitter is applied, so jitter can push the final
// delay past the clamp but the curve itself cannot.
func Delay(p *domain.RetryPolicy, n int, rng *rand.Rand) time.Duration {
	if n < 1 {
		return 0
	}

	var raw float64
	base := float64(p.BaseDelay)

	switch p.Backoff {
	case domain.BackoffFixed:
		raw = base
	case domain.BackoffLinear:
		raw = base * p.Multiplier * float64(n)
	case domain.BackoffExponential:
		raw = base * math.Pow(p.Multiplier, float64(n-1))
	case domain.BackoffFibonacci:
		raw = base * float64(fib(n))
	default:
		raw = base
	}

	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}

	if p.JitterEnabled {
		u := p.JitterMin
		if p.JitterMax > p.JitterMin {
			u += (p.JitterMax - p.JitterMin) * rng.Float64()
		}
		raw *= 1 + u
	}

	if raw < 0 {
		return 0
	}
	return time.Duration(raw)
}

// fib returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func fib(n int) uint64 {
	if n <= 2 {
		return 1
	}
	a, b := uint64(1), uint64(1)
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

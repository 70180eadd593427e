// Package backoff computes the wait between a failed attempt and the next.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy maps the number of attempts made so far, including the one
// that just failed, to the wait before the next attempt.
type Strategy func(attemptsMade int) time.Duration

// Fixed waits d between every attempt.
func Fixed(d time.Duration) Strategy {
	return func(int) time.Duration { return d }
}

// Linear waits step×attemptsMade, capped at ceiling when ceiling > 0.
func Linear(step, ceiling time.Duration) Strategy {
	return func(n int) time.Duration {
		return capAt(float64(step)*float64(n), ceiling)
	}
}

// Exponential waits base×2^(attemptsMade-1), capped at ceiling when
// ceiling > 0.
func Exponential(base, ceiling time.Duration) Strategy {
	return func(n int) time.Duration {
		return capAt(float64(base)*math.Exp2(float64(n-1)), ceiling)
	}
}

// WithJitter randomises the given fraction of each wait: the result lies
// in [d×(1-fraction), d]. The fraction is clamped to [0, 1].
func (s Strategy) WithJitter(fraction float64) Strategy {
	fraction = min(max(fraction, 0), 1)
	if fraction == 0 {
		return s
	}
	return func(n int) time.Duration {
		d := float64(s(n))
		if d <= 0 {
			return 0
		}
		return time.Duration(d * (1 - fraction*rand.Float64())) //nolint:gosec // jitter does not need crypto rand
	}
}

func capAt(f float64, ceiling time.Duration) time.Duration {
	d := time.Duration(math.MaxInt64)
	if f < math.MaxInt64 {
		d = time.Duration(f)
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

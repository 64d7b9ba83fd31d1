// Package backoff holds the pure delay arithmetic behind the retry
// schedule. Keeping it free of policy state makes the sequence trivially
// testable.
package backoff

import (
	"math/rand"
	"time"
)

// Delay computes the wait after the given 1-based attempt.
//
// In exponential mode the delay is base * 2^(attempt-1), capped at max;
// otherwise it is the constant base. A jitter factor in (0, 1] adds up to
// that fraction of the computed delay.
func Delay(attempt int, base, max time.Duration, exponential bool, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base
	if exponential {
		// Cap the exponent so the float product cannot overflow the
		// duration range.
		exp := attempt - 1
		if exp > 30 {
			exp = 30
		}
		d = time.Duration(float64(base) * Pow(2.0, exp))
	}
	if max > 0 && (d > max || d < 0) {
		d = max
	}

	if jitter > 0 {
		if jitter > 1 {
			jitter = 1
		}
		d += time.Duration(float64(d) * jitter * rand.Float64())
		if max > 0 && d > max {
			d = max
		}
	}

	return d
}

// Pow raises base to a non-negative integer exponent.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

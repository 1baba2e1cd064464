package gateway

import (
	"math"
	"math/rand"
	"time"
)

// Backoff shapes the reconnect delay curve. It follows the same
// min(base*factor^n, max) formula as the retry handler, with jitter scaling
// the result into [1-Jitter, 1.0] so synchronized feeds do not redial in
// lockstep.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given reconnect attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.Min)
	if base <= 0 {
		base = float64(100 * time.Millisecond)
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}
	ceiling := float64(b.Max)
	if ceiling <= 0 {
		ceiling = float64(5 * time.Second)
	}

	delay := base * math.Pow(factor, float64(attempt-1))
	if delay > ceiling {
		delay = ceiling
	}

	if jitter := math.Min(b.Jitter, 1); jitter > 0 {
		delay *= 1 - jitter*rand.Float64()
	}
	return time.Duration(delay)
}

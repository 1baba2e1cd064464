package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Second, b.Next(10), "delay never exceeds Max")
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.2}

	for attempt := 1; attempt <= 4; attempt++ {
		full := Backoff{Min: b.Min, Max: b.Max, Factor: b.Factor}.Next(attempt)
		for i := 0; i < 50; i++ {
			d := b.Next(attempt)
			assert.LessOrEqual(t, d, full)
			assert.GreaterOrEqual(t, d, time.Duration(float64(full)*0.8))
		}
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
}

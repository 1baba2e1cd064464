package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/obs"
)

var errUpstream = errors.New("upstream boom")

func newTestBreaker(cfg BreakerConfig) *Breaker {
	return NewBreaker("test", cfg, obs.NewStats())
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func(context.Context) error { return errUpstream })
	}
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 5)
	require.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(t.Context(), func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the wrapped function")

	var oe *CircuitOpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "test", oe.Breaker)
	assert.Greater(t, oe.RetryAfter(), time.Duration(0))
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := newTestBreaker(BreakerConfig{FailureThreshold: 5})

	failN(b, 4)
	assert.Equal(t, BreakerClosed, b.State())
	require.NoError(t, b.Do(t.Context(), func(context.Context) error { return nil }))
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 2)
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	require.NoError(t, b.Do(t.Context(), func(context.Context) error { return nil }))
	assert.Equal(t, BreakerHalfOpen, b.State())

	require.NoError(t, b.Do(t.Context(), func(context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 2)
	time.Sleep(25 * time.Millisecond)

	failN(b, 1)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerMonitoringPeriodExpiresOldFailures(t *testing.T) {
	b := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		MonitoringPeriod: 30 * time.Millisecond,
		ResetTimeout:     time.Minute,
	})

	failN(b, 2)
	time.Sleep(40 * time.Millisecond)
	failN(b, 2)

	assert.Equal(t, BreakerClosed, b.State(), "stale failures must not count toward the threshold")
}

func TestBreakerManualReset(t *testing.T) {
	b := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	failN(b, 1)
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	require.NoError(t, b.Do(t.Context(), func(context.Context) error { return nil }))
}

func TestBreakerStats(t *testing.T) {
	b := newTestBreaker(BreakerConfig{FailureThreshold: 10})

	failN(b, 2)
	require.NoError(t, b.Do(t.Context(), func(context.Context) error { return nil }))

	stats := b.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, uint64(3), stats.TotalCalls)
	assert.Equal(t, uint64(2), stats.TotalFailures)
	assert.Equal(t, uint64(1), stats.TotalSuccesses)
	assert.False(t, stats.LastFailureAt.IsZero())
	assert.False(t, stats.LastSuccessAt.IsZero())
}

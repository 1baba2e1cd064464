package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/obs"
	"main/pkg/exception"
)

func newTestRetry(cfg RetryConfig) *Retry {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Millisecond
	}
	return NewRetry(cfg, obs.NewStats())
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	r := newTestRetry(RetryConfig{MaxRetries: 3})

	calls := 0
	wantErr := errors.New("dial tcp: i/o timeout")
	err := r.Do(t.Context(), "place_order", func(context.Context) error {
		calls++
		return wantErr
	})

	require.Error(t, err)
	assert.Equal(t, wantErr, err, "exhaustion must surface the last error unchanged")
	assert.Equal(t, 4, calls, "maxRetries=3 means exactly 4 attempts")

	stats := r.Stats()
	assert.Equal(t, uint64(4), stats.Attempts)
	assert.Equal(t, uint64(3), stats.TotalRetries)
	assert.Equal(t, wantErr, stats.LastError)
	assert.False(t, stats.LastAttemptAt.IsZero())
}

func TestRetryNonRetryablePropagatesUnchanged(t *testing.T) {
	r := newTestRetry(RetryConfig{MaxRetries: 3})

	calls := 0
	wantErr := &exception.StatusError{Code: 400, Body: "bad request"}
	err := r.Do(t.Context(), "place_order", func(context.Context) error {
		calls++
		return wantErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var se *exception.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRetry(RetryConfig{MaxRetries: 5})

	calls := 0
	err := r.Do(t.Context(), "all_mids", func(context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint64(2), r.Stats().TotalRetries)
}

func TestRetryOverallTimeoutStopsMidBackoff(t *testing.T) {
	r := newTestRetry(RetryConfig{
		MaxRetries: 100,
		BaseDelay:  20 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		Timeout:    30 * time.Millisecond,
	})

	wantErr := errors.New("network unreachable")
	started := time.Now()
	err := r.Do(t.Context(), "user_state", func(context.Context) error { return wantErr })

	require.Error(t, err)
	require.ErrorIs(t, err, ErrRetryTimeout)
	var te *RetryTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, wantErr, te.Last)
	assert.Less(t, time.Since(started), 200*time.Millisecond, "must stop without draining all retries")
}

func TestRetryReset(t *testing.T) {
	r := newTestRetry(RetryConfig{MaxRetries: 1})

	_ = r.Do(t.Context(), "meta", func(context.Context) error { return errors.New("timeout") })
	require.NotZero(t, r.Stats().Attempts)

	r.Reset()
	stats := r.Stats()
	assert.Zero(t, stats.Attempts)
	assert.Zero(t, stats.TotalRetries)
	assert.Nil(t, stats.LastError)
}

func TestRetryBackoffCapsAtMaxDelay(t *testing.T) {
	r := NewRetry(RetryConfig{
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  40 * time.Millisecond,
		Factor:    2.0,
	}, obs.NewStats())

	assert.Equal(t, 10*time.Millisecond, r.backoff(0))
	assert.Equal(t, 20*time.Millisecond, r.backoff(1))
	assert.Equal(t, 40*time.Millisecond, r.backoff(2))
	assert.Equal(t, 40*time.Millisecond, r.backoff(5))
}

func TestRetryJitterStaysWithinHalfToFull(t *testing.T) {
	r := NewRetry(RetryConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  100 * time.Millisecond,
		Factor:    2.0,
		Jitter:    true,
	}, obs.NewStats())

	for i := 0; i < 100; i++ {
		d := r.backoff(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestDefaultRetryableClassification(t *testing.T) {
	assert.True(t, DefaultRetryable(&exception.StatusError{Code: 429}))
	assert.True(t, DefaultRetryable(&exception.StatusError{Code: 503}))
	assert.True(t, DefaultRetryable(errors.New("read: connection timeout")))
	assert.True(t, DefaultRetryable(errors.New("network is down")))
	assert.True(t, DefaultRetryable(syscall.ECONNREFUSED))

	assert.False(t, DefaultRetryable(nil))
	assert.False(t, DefaultRetryable(&exception.StatusError{Code: 400}))
	assert.False(t, DefaultRetryable(exception.Validationf("size", "must be positive")))
	assert.False(t, DefaultRetryable(&CircuitOpenError{Breaker: "order"}))
}

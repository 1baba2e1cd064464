package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"main/internal/obs"
	"main/pkg/exception"
)

// ErrRetryTimeout reports that the overall operation deadline elapsed while
// retrying. It bounds wall-clock time across every attempt and backoff sleep,
// not a single attempt.
var ErrRetryTimeout = errors.New("resilience: retry timeout exceeded")

// RetryTimeoutError wraps the last attempt error when the overall deadline
// elapsed mid-retry.
type RetryTimeoutError struct {
	Op      string
	Elapsed time.Duration
	Last    error
}

func (e *RetryTimeoutError) Error() string {
	if e.Last == nil {
		return "resilience: retry timeout exceeded, op: " + e.Op
	}
	return "resilience: retry timeout exceeded, op: " + e.Op + ", last: " + e.Last.Error()
}

func (e *RetryTimeoutError) Unwrap() error { return e.Last }

func (e *RetryTimeoutError) Is(target error) bool { return target == ErrRetryTimeout }

// RetryConfig tunes the retry handler.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     bool
	// Timeout bounds the whole operation across retries. 0 disables it.
	Timeout time.Duration
	// Retryable overrides the default transient-error predicate.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Factor <= 1 {
		c.Factor = 2.0
	}
	if c.Retryable == nil {
		c.Retryable = DefaultRetryable
	}
	return c
}

// RetryStats is a cumulative view over every call through one handler.
type RetryStats struct {
	Attempts      uint64
	TotalRetries  uint64
	LastError     error
	LastAttemptAt time.Time
}

// Retry executes operations with exponential backoff. One handler is shared
// per call-site concern; it is safe for concurrent use.
type Retry struct {
	cfg   RetryConfig
	stats *obs.Stats

	attempts uint64
	retries  uint64

	mu            sync.Mutex
	lastErr       error
	lastAttemptAt time.Time
}

// NewRetry builds a retry handler with defaults applied.
func NewRetry(cfg RetryConfig, stats *obs.Stats) *Retry {
	return &Retry{cfg: cfg.withDefaults(), stats: stats}
}

// Do runs fn, retrying transient failures per the config.
//
// Non-retryable errors propagate unchanged after a single attempt. When
// attempts are exhausted the last error is returned unchanged; when the
// overall timeout elapses a RetryTimeoutError wrapping it is returned.
func (r *Retry) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if r == nil {
		return exception.ErrNilInstance
	}

	started := time.Now()
	var deadline time.Time
	if r.cfg.Timeout > 0 {
		deadline = started.Add(r.cfg.Timeout)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		atomic.AddUint64(&r.attempts, 1)
		r.stats.IncRetryAttempt()
		r.noteAttempt()

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		r.noteError(err)

		if !r.cfg.Retryable(err) {
			return err
		}
		if attempt >= r.cfg.MaxRetries {
			r.stats.IncRetryExhausted()
			return lastErr
		}

		delay := r.backoff(attempt)
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			r.stats.IncRetryTimeout()
			return &RetryTimeoutError{Op: op, Elapsed: time.Since(started), Last: lastErr}
		}

		atomic.AddUint64(&r.retries, 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff computes min(base*factor^attempt, max), scaled into [0.5,1.0]
// when jitter is enabled.
func (r *Retry) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Factor, float64(attempt))
	if capped := float64(r.cfg.MaxDelay); delay > capped {
		delay = capped
	}
	if r.cfg.Jitter {
		delay *= 0.5 + 0.5*rand.Float64()
	}
	return time.Duration(delay)
}

// NextDelay exposes the computed backoff for retry-after hints.
func (r *Retry) NextDelay(attempt int) time.Duration {
	if r == nil {
		return 0
	}
	return r.backoff(attempt)
}

// Stats returns the cumulative counters.
func (r *Retry) Stats() RetryStats {
	if r == nil {
		return RetryStats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return RetryStats{
		Attempts:      atomic.LoadUint64(&r.attempts),
		TotalRetries:  atomic.LoadUint64(&r.retries),
		LastError:     r.lastErr,
		LastAttemptAt: r.lastAttemptAt,
	}
}

// Reset clears the cumulative counters.
func (r *Retry) Reset() {
	if r == nil {
		return
	}
	atomic.StoreUint64(&r.attempts, 0)
	atomic.StoreUint64(&r.retries, 0)
	r.mu.Lock()
	r.lastErr = nil
	r.lastAttemptAt = time.Time{}
	r.mu.Unlock()
}

func (r *Retry) noteAttempt() {
	r.mu.Lock()
	r.lastAttemptAt = time.Now()
	r.mu.Unlock()
}

func (r *Retry) noteError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// DefaultRetryable classifies transient transport failures: net timeouts,
// connection resets, DNS failures, "timeout"/"network" error text, and
// HTTP 429/502/503/504. Validation and circuit-open errors never match.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsValidation(err) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch exception.StatusCode(err) {
	case 429, 502, 503, 504:
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "network")
}

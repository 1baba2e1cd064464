package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/pkg/exception"
)

// ErrCircuitOpen is the fail-fast error returned while a breaker is open.
// Callers match it with errors.Is and may degrade to stale data.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitOpenError carries the breaker name and the earliest next attempt
// time so boundaries can emit retry-after hints.
type CircuitOpenError struct {
	Breaker       string
	NextAttemptAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit open, breaker: %s, next attempt: %s",
		e.Breaker, e.NextAttemptAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// RetryAfter returns the remaining cool-down.
func (e *CircuitOpenError) RetryAfter() time.Duration {
	return time.Until(e.NextAttemptAt)
}

// BreakerState is the circuit state.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "half_open"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = time.Minute
	}
	return c
}

// BreakerStats is a point-in-time view for operational visibility.
type BreakerStats struct {
	State          string
	Failures       int
	Successes      int
	TotalCalls     uint64
	TotalFailures  uint64
	TotalSuccesses uint64
	LastFailureAt  time.Time
	LastSuccessAt  time.Time
	NextAttemptAt  time.Time
}

// Breaker is a per-call-site circuit breaker. One instance protects one
// outbound concern (order placement, market REST fallback, ...).
type Breaker struct {
	name  string
	cfg   BreakerConfig
	stats *obs.Stats

	mu                sync.Mutex
	state             BreakerState
	failures          []time.Time
	halfOpenSuccesses int
	nextAttemptAt     time.Time
	totalCalls        uint64
	totalFailures     uint64
	totalSuccesses    uint64
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
}

// NewBreaker builds a named breaker with defaults applied.
func NewBreaker(name string, cfg BreakerConfig, stats *obs.Stats) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), stats: stats}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Do runs fn under the breaker. While open it fails fast with a
// CircuitOpenError without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if b == nil {
		return exception.ErrNilInstance
	}
	if err := b.allow(); err != nil {
		b.stats.IncBreakerFastFail()
		return err
	}
	err := fn(ctx)
	if err != nil && !exception.IsValidation(err) {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Now().Before(b.nextAttemptAt) {
			return &CircuitOpenError{Breaker: b.name, NextAttemptAt: b.nextAttemptAt}
		}
		b.state = BreakerHalfOpen
		b.halfOpenSuccesses = 0
		logs.Infof("breaker %s half-open", b.name)
	case BreakerHalfOpen:
		// one probe at a time is not enforced; any failure reopens.
	}
	b.totalCalls++
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.lastSuccessAt = time.Now()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = b.failures[:0]
			b.halfOpenSuccesses = 0
			logs.Infof("breaker %s closed", b.name)
		}
	case BreakerClosed:
		// successes do not clear the failure window; only time does.
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.totalFailures++
	b.lastFailureAt = now

	switch b.state {
	case BreakerHalfOpen:
		b.open(now)
	case BreakerClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = BreakerOpen
	b.nextAttemptAt = now.Add(b.cfg.ResetTimeout)
	b.failures = b.failures[:0]
	b.halfOpenSuccesses = 0
	b.stats.IncBreakerOpen()
	logs.Warnf("breaker %s opened, next attempt at %s", b.name, b.nextAttemptAt.Format(time.RFC3339))
}

// pruneLocked drops failures older than the trailing monitoring period.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringPeriod)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// Reset forces the breaker closed and clears counters.
func (b *Breaker) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = b.failures[:0]
	b.halfOpenSuccesses = 0
	b.nextAttemptAt = time.Time{}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for observability.
func (b *Breaker) Stats() BreakerStats {
	if b == nil {
		return BreakerStats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:          b.state.String(),
		Failures:       len(b.failures),
		Successes:      b.halfOpenSuccesses,
		TotalCalls:     b.totalCalls,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		LastFailureAt:  b.lastFailureAt,
		LastSuccessAt:  b.lastSuccessAt,
		NextAttemptAt:  b.nextAttemptAt,
	}
}

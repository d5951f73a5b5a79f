// Package recovery owns the global paused flag and the post-regression
// decision tree. The circuit breaker is the sole piece of cross-task shared
// mutable state in the pipeline; every task reads it before starting.
package recovery

import (
	"fmt"
	"sync"
	"time"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// PauseEvent is one audited breaker transition.
type PauseEvent struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"` // "paused" or "resumed"
	Reason string    `json:"reason"`
}

// CircuitBreaker gates the evolution loop.
//
// Closed admits tasks. Consecutive failures trip it open; manual pauses open
// it directly. After the cooldown one probe task is admitted (half-open): its
// success closes the breaker, its failure reopens it. A threshold of zero
// disables automatic tripping, leaving only manual pauses.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	logger    Logger

	state    string
	failures int
	pausedAt time.Time
	reason   string
	audit    []PauseEvent
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerLogger sets the breaker logger.
func WithBreakerLogger(logger Logger) BreakerOption {
	return func(b *CircuitBreaker) { b.logger = logger }
}

// NewCircuitBreaker builds a closed breaker tripping after threshold
// consecutive failures, admitting a probe task after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a new task may start. An open breaker past its
// cooldown admits exactly one probe task and moves to half-open; further
// tasks wait for the probe's outcome.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.cooldown > 0 && time.Since(b.pausedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.logInfo("breaker_half_open", "paused_for", time.Since(b.pausedAt).String())
			return true
		}
		return false
	default: // half-open: probe already in flight
		return false
	}
}

// RecordFailure counts a failed task. At the threshold the breaker opens;
// a failed probe reopens it immediately.
func (b *CircuitBreaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen {
		b.openLocked("probe task failed: " + reason)
		return
	}
	if b.state == StateClosed && b.threshold > 0 && b.failures >= b.threshold {
		b.openLocked(fmt.Sprintf("%d consecutive failures, last: %s", b.failures, reason))
	}
}

// RecordSuccess resets the failure count; a successful probe closes the
// breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.closeLocked("probe task succeeded")
	}
}

// Pause opens the breaker regardless of failure count.
func (b *CircuitBreaker) Pause(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		b.openLocked(reason)
	}
}

// Resume closes the breaker and clears the failure count.
func (b *CircuitBreaker) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateClosed {
		b.closeLocked("manually resumed")
	}
}

// IsPaused reports whether the loop is paused and why.
func (b *CircuitBreaker) IsPaused() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateClosed, b.reason
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Audit returns the transition history, oldest first.
func (b *CircuitBreaker) Audit() []PauseEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PauseEvent, len(b.audit))
	copy(out, b.audit)
	return out
}

func (b *CircuitBreaker) openLocked(reason string) {
	b.state = StateOpen
	b.pausedAt = time.Now().UTC()
	b.reason = reason
	b.audit = append(b.audit, PauseEvent{At: b.pausedAt, Action: "paused", Reason: reason})
	b.logWarn("evolution_paused", "reason", reason)
}

func (b *CircuitBreaker) closeLocked(reason string) {
	b.state = StateClosed
	b.reason = ""
	b.audit = append(b.audit, PauseEvent{At: time.Now().UTC(), Action: "resumed", Reason: reason})
	b.logInfo("evolution_resumed", "reason", reason)
}

func (b *CircuitBreaker) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *CircuitBreaker) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

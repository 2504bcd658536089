package resilience

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a rolling-window circuit breaker. While open it rejects calls
// without invoking the operation; after BreakDuration one probe call is
// allowed through, and its outcome closes or re-opens the circuit.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       breakerState
	windowStart time.Time
	successes   int
	failures    int
	openedAt    time.Time
	probing     bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, windowStart: time.Now()}
}

// Allow reports whether a call may proceed. In half-open state only a single
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.cfg.BreakDuration {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess feeds a successful call outcome into the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateClosed
		b.resetWindowLocked()
		return
	}
	b.rollWindowLocked()
	b.successes++
}

// RecordFailure feeds a failed call outcome into the window and trips the
// circuit when the failure ratio over sufficient throughput is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		b.probing = false
		return
	}

	b.rollWindowLocked()
	b.failures++

	total := b.successes + b.failures
	if total < b.cfg.MinThroughput {
		return
	}
	if float64(b.failures)/float64(total) >= b.cfg.FailureRatio {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// State returns the current state name for logging and metrics.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) rollWindowLocked() {
	if time.Since(b.windowStart) > b.cfg.SamplingWindow {
		b.resetWindowLocked()
	}
}

func (b *Breaker) resetWindowLocked() {
	b.windowStart = time.Now()
	b.successes = 0
	b.failures = 0
	b.probing = false
}

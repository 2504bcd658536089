// Package resilience wraps external calls with a composable pipeline of
// retry, circuit breaking, per-attempt timeouts, rate limiting and a
// concurrency bulkhead, and classifies terminating failures into the shared
// taxonomy.
package resilience

import (
	"time"
)

// BackoffKind selects the delay schedule between retry attempts.
type BackoffKind int

const (
	BackoffFixed BackoffKind = iota
	BackoffLinear
	BackoffExponential
)

// BreakerConfig tunes the circuit breaker stage.
type BreakerConfig struct {
	FailureRatio   float64       // open when failures/total >= ratio
	SamplingWindow time.Duration // rolling window the ratio is computed over
	BreakDuration  time.Duration // how long an open circuit stays open
	MinThroughput  int           // calls required in window before the ratio applies
}

// RateConfig tunes the sliding-window rate limiter stage.
type RateConfig struct {
	Permits int
	Window  time.Duration
}

// Policy is an immutable description of how one operation class is executed.
// Values are constructed once via NewPolicy and shared freely across
// goroutines.
type Policy struct {
	Name           string
	MaxAttempts    int
	Backoff        BackoffKind
	BaseDelay      time.Duration
	Jitter         bool
	AttemptTimeout time.Duration
	Breaker        *BreakerConfig
	RateLimit      *RateConfig
	MaxInFlight    int
	Lightweight    bool
}

// Option mutates a policy under construction.
type Option func(*Policy)

// NewPolicy builds a policy with sane defaults: 2 attempts, exponential
// backoff from 100ms, 10s attempt timeout, no breaker, no rate limit, no
// bulkhead.
func NewPolicy(name string, opts ...Option) Policy {
	p := Policy{
		Name:           name,
		MaxAttempts:    2,
		Backoff:        BackoffExponential,
		BaseDelay:      100 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.MaxAttempts = n }
}

func WithBackoff(kind BackoffKind, base time.Duration, jitter bool) Option {
	return func(p *Policy) {
		p.Backoff = kind
		p.BaseDelay = base
		p.Jitter = jitter
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Policy) { p.AttemptTimeout = d }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(p *Policy) { p.Breaker = &cfg }
}

func WithRateLimit(permits int, window time.Duration) Option {
	return func(p *Policy) { p.RateLimit = &RateConfig{Permits: permits, Window: window} }
}

func WithBulkhead(maxInFlight int) Option {
	return func(p *Policy) { p.MaxInFlight = maxInFlight }
}

// WithLightweight skips detailed logging and metrics for latency-sensitive
// hot paths while keeping the retry and breaker semantics.
func WithLightweight() Option {
	return func(p *Policy) { p.Lightweight = true }
}

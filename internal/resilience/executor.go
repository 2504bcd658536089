package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/monetra/autoinvest/internal/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// invoking the operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Result is the uniform outcome of an executed operation.
type Result[T any] struct {
	Value    T
	Success  bool
	Reason   types.Reason
	Message  string
	Err      error
	Attempts int
}

// Executor holds the shared breaker, rate-limiter and bulkhead state keyed by
// policy name, so concurrent callers of the same operation class share one
// circuit and one budget.
type Executor struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	limiters  map[string]*rate.Limiter
	bulkheads map[string]chan struct{}
}

// NewExecutor creates an executor with no per-policy state yet; state is
// created lazily on first use of each policy name.
func NewExecutor() *Executor {
	return &Executor{
		breakers:  make(map[string]*Breaker),
		limiters:  make(map[string]*rate.Limiter),
		bulkheads: make(map[string]chan struct{}),
	}
}

func (e *Executor) breakerFor(p Policy) *Breaker {
	if p.Breaker == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[p.Name]
	if !ok {
		b = NewBreaker(*p.Breaker)
		e.breakers[p.Name] = b
	}
	return b
}

func (e *Executor) limiterFor(p Policy) *rate.Limiter {
	if p.RateLimit == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[p.Name]
	if !ok {
		perSecond := float64(p.RateLimit.Permits) / p.RateLimit.Window.Seconds()
		l = rate.NewLimiter(rate.Limit(perSecond), p.RateLimit.Permits)
		e.limiters[p.Name] = l
	}
	return l
}

func (e *Executor) bulkheadFor(p Policy) chan struct{} {
	if p.MaxInFlight <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bulkheads[p.Name]
	if !ok {
		b = make(chan struct{}, p.MaxInFlight)
		e.bulkheads[p.Name] = b
	}
	return b
}

// BreakerState exposes the breaker state for a policy name, for ops surfaces.
func (e *Executor) BreakerState(name string) string {
	e.mu.Lock()
	b, ok := e.breakers[name]
	e.mu.Unlock()
	if !ok {
		return "closed"
	}
	return b.State()
}

// Execute runs op under the policy's pipeline: bulkhead admission, rate
// limiter wait, circuit-breaker gate, per-attempt timeout, then retry with
// the policy's backoff schedule. The terminating failure is classified into
// the shared taxonomy.
func Execute[T any](ctx context.Context, e *Executor, p Policy, op func(context.Context) (T, error)) Result[T] {
	return ExecuteWithCallbacks(ctx, e, p, op, nil, nil)
}

// ExecuteWithCallbacks is Execute with best-effort success/error callbacks.
// A panicking or failing callback is logged and swallowed; it never changes
// the primary result.
func ExecuteWithCallbacks[T any](ctx context.Context, e *Executor, p Policy, op func(context.Context) (T, error), onSuccess func(T), onError func(error)) Result[T] {
	logger := log.With().Str("operation", p.Name).Logger()
	start := time.Now()
	defer func() {
		if !p.Lightweight {
			mtxDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
		}
	}()

	if bulkhead := e.bulkheadFor(p); bulkhead != nil {
		select {
		case bulkhead <- struct{}{}:
			defer func() { <-bulkhead }()
		case <-ctx.Done():
			return failure[T](p, types.ReasonServiceUnavailable, "bulkhead admission cancelled", ctx.Err(), 0, onError)
		}
	}

	if limiter := e.limiterFor(p); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return failure[T](p, types.ReasonServiceUnavailable, "rate limiter wait cancelled", err, 0, onError)
		}
	}

	breaker := e.breakerFor(p)
	schedule := newSchedule(p)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if breaker != nil && !breaker.Allow() {
			if !p.Lightweight {
				mtxBreakerOpen.WithLabelValues(p.Name).Inc()
				logger.Warn().Int("attempt", attempt).Msg("circuit open, short-circuiting")
			}
			return failure[T](p, types.ReasonServiceUnavailable, "circuit breaker open", ErrCircuitOpen, attempts, onError)
		}

		attempts++
		attemptCtx := ctx
		cancel := func() {}
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		value, err := op(attemptCtx)
		cancel()

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			if !p.Lightweight {
				mtxAttempts.WithLabelValues(p.Name, "success").Inc()
			}
			runSuccessCallback(p.Name, onSuccess, value)
			return Result[T]{Value: value, Success: true, Attempts: attempts}
		}

		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}
		if !p.Lightweight {
			mtxAttempts.WithLabelValues(p.Name, "failure").Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("operation attempt failed")
		}

		reason := classifyAttempt(attemptCtx, err)
		if !reason.Retryable() || attempt == p.MaxAttempts {
			break
		}

		delay := schedule.next(attempt)
		if !p.Lightweight {
			mtxRetries.WithLabelValues(p.Name).Inc()
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return failure[T](p, types.ReasonServiceUnavailable, "cancelled while backing off", ctx.Err(), attempts, onError)
		}
	}

	reason := classifyAttempt(ctx, lastErr)
	msg := "operation failed"
	var perr *types.PipelineError
	if errors.As(lastErr, &perr) {
		msg = perr.Message
	}
	return failure[T](p, reason, msg, lastErr, attempts, onError)
}

func failure[T any](p Policy, reason types.Reason, msg string, err error, attempts int, onError func(error)) Result[T] {
	runErrorCallback(p.Name, onError, err)
	return Result[T]{Success: false, Reason: reason, Message: msg, Err: err, Attempts: attempts}
}

// classifyAttempt maps the terminating error onto the taxonomy, folding
// timeout exhaustion into service-unavailable.
func classifyAttempt(ctx context.Context, err error) types.Reason {
	if err == nil {
		return types.ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return types.ReasonServiceUnavailable
	}
	return types.Classify(err)
}

func runSuccessCallback[T any](operation string, cb func(T), value T) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("operation", operation).Interface("panic", r).Msg("success callback panicked")
		}
	}()
	cb(value)
}

func runErrorCallback(operation string, cb func(error), err error) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("operation", operation).Interface("panic", r).Msg("error callback panicked")
		}
	}()
	cb(err)
}

// schedule produces inter-attempt delays for one execution. Exponential
// schedules ride on backoff/v5; fixed and linear are computed directly.
type schedule struct {
	policy Policy
	expo   *backoff.ExponentialBackOff
}

func newSchedule(p Policy) *schedule {
	s := &schedule{policy: p}
	if p.Backoff == BackoffExponential {
		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = p.BaseDelay
		expo.MaxInterval = 30 * time.Second
		if !p.Jitter {
			expo.RandomizationFactor = 0
		}
		s.expo = expo
	}
	return s
}

func (s *schedule) next(attempt int) time.Duration {
	switch s.policy.Backoff {
	case BackoffExponential:
		return s.expo.NextBackOff()
	case BackoffLinear:
		return s.policy.BaseDelay * time.Duration(attempt)
	default:
		return s.policy.BaseDelay
	}
}

package resilience

import "time"

// Named policy presets shared by the pipeline. External partners are a
// scarce resource, so the exchange preset carries the strictest protections:
// a sliding-window rate limit, a concurrency bulkhead and a long break.

// QuickOperation suits cheap internal lookups: short timeout, two attempts.
func QuickOperation(name string) Policy {
	return NewPolicy(name,
		WithMaxAttempts(2),
		WithBackoff(BackoffFixed, 50*time.Millisecond, false),
		WithAttemptTimeout(3*time.Second),
	)
}

// DatabaseRead tolerates more breaker noise than writes and gives up faster.
func DatabaseRead(name string) Policy {
	return NewPolicy(name,
		WithMaxAttempts(2),
		WithBackoff(BackoffFixed, 100*time.Millisecond, false),
		WithAttemptTimeout(5*time.Second),
		WithBreaker(BreakerConfig{
			FailureRatio:   0.7,
			SamplingWindow: 30 * time.Second,
			BreakDuration:  10 * time.Second,
			MinThroughput:  10,
		}),
	)
}

// DatabaseWrite retries harder and breaks sooner: a struggling write path
// must not be hammered.
func DatabaseWrite(name string) Policy {
	return NewPolicy(name,
		WithMaxAttempts(4),
		WithBackoff(BackoffExponential, 200*time.Millisecond, true),
		WithAttemptTimeout(15*time.Second),
		WithBreaker(BreakerConfig{
			FailureRatio:   0.5,
			SamplingWindow: 30 * time.Second,
			BreakDuration:  20 * time.Second,
			MinThroughput:  5,
		}),
	)
}

// ExchangeAPI guards calls to external trading venues.
func ExchangeAPI(name string) Policy {
	return NewPolicy(name,
		WithMaxAttempts(3),
		WithBackoff(BackoffExponential, 500*time.Millisecond, true),
		WithAttemptTimeout(30*time.Second),
		WithBreaker(BreakerConfig{
			FailureRatio:   0.5,
			SamplingWindow: time.Minute,
			BreakDuration:  time.Minute,
			MinThroughput:  5,
		}),
		WithRateLimit(20, time.Second),
		WithBulkhead(10),
	)
}

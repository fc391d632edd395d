package activity

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy encapsulates the delay between retry attempts. The attempt
// index starts at 0, incrementing after each failure.
type RetryStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately without waiting. Used by tests and
// in-process collaborators that carry their own rate limiting.
type NoDelayStrategy struct{}

func (n NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy grows the delay by Factor each attempt,
// capped at Max. Jitter spreads concurrent retries so exhausted commands
// do not hammer a rate-limited cloud API in lockstep.
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   200 * time.Millisecond,
//	    Factor: 2,
//	    Max:    30 * time.Second,
//	    Jitter: 0.2,
//	})
type ExponentialBackoffStrategy struct {
	// Base is the starting delay (e.g., 200ms)
	Base time.Duration
	// Factor is multiplied each iteration (e.g., 2 => 200ms, 400ms, 800ms, ...)
	Factor float64
	// Max caps the exponential growth
	Max time.Duration
	// Jitter is the random fraction (0..1) added or removed per delay
	Jitter float64
}

// SleepDuration implements an exponential backoff with cap and jitter.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if e.Jitter > 0 {
		spread := delay * e.Jitter
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// DefaultStrategy is the executor's backoff when none is configured.
func DefaultStrategy() RetryStrategy {
	return ExponentialBackoffStrategy{
		Base:   200 * time.Millisecond,
		Factor: 2,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

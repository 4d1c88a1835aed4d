package worker

import (
	"math"
	"time"
)

// RetryPolicy schedules redelivery of failed notifications with exponential
// backoff. Attempts are 1-based.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Exhausted reports whether attempt is the last one allowed.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt >= r.MaxRetries
}

// NextDelay is InitialDelay * BackoffFactor^(attempt-1), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	exp := math.Max(float64(attempt-1), 0)

	d := float64(base) * math.Pow(factor, exp)
	if r.MaxDelay > 0 && d > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// NextRetryAt is when a task failing its attempt-th delivery at now becomes due.
func (r RetryPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.UTC().Add(r.NextDelay(attempt))
}

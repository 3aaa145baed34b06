// Package retry runs an operation under an explicit bounded retry policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// Backoff builds a fresh schedule per Do call. Nil retries immediately.
	Backoff func() backoff.BackOff
}

// Exponential returns a backoff factory doubling from initial up to max.
func Exponential(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		return b
	}
}

// Default is used for gateway credential fetches.
var Default = Policy{MaxAttempts: 3, Backoff: Exponential(200*time.Millisecond, 2*time.Second)}

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = p.Backoff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error { return fn(ctx) }, b)
}

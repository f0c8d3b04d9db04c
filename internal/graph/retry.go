package graph

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Refresh backoff defaults.
const (
	defaultRefreshRetries = 2
	refreshBaseBackoff    = 250 * time.Millisecond
	refreshMaxBackoff     = 5 * time.Second
	refreshJitterPercent  = 25
)

// RetryPolicy is a bounded-retry combinator. MaxAttempts counts every call of
// the operation, including the first. Backoff builds a fresh schedule per Do
// call because go-retry backoffs are stateful.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func() retry.Backoff
}

// ImmediateBackoff retries with no delay between attempts.
func ImmediateBackoff() retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
}

// ExponentialBackoff returns a constructor for capped exponential backoff
// with jitter.
func ExponentialBackoff(base, maxDelay time.Duration) func() retry.Backoff {
	return func() retry.Backoff {
		b := retry.NewExponential(base)
		b = retry.WithCappedDuration(maxDelay, b)

		return retry.WithJitterPercent(refreshJitterPercent, b)
	}
}

// defaultRefreshPolicy is used by Authority unless overridden.
func defaultRefreshPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRefreshRetries,
		Backoff:     ExponentialBackoff(refreshBaseBackoff, refreshMaxBackoff),
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn marks failures worth retrying with
// retry.RetryableError. The last error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	newBackoff := p.Backoff
	if newBackoff == nil {
		newBackoff = ImmediateBackoff
	}

	b := retry.WithMaxRetries(uint64(attempts-1), newBackoff())

	return retry.Do(ctx, b, fn)
}

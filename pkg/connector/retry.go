package connector

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the bounded exponential backoff applied uniformly to
// both API clients. MaxAttempts counts the initial attempt, so
// MaxAttempts of 3 means at most two retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when the config does not
// override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op, retrying transient failures until the attempt bound is
// reached or ctx is done. Non-transient errors (see IsTransient) stop
// immediately. The last error is returned unwrapped so callers can
// inspect it with errors.As.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

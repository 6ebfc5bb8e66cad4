// Package retry builds the bounded exponential backoff shared by the mailbox
// and the dispatcher.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded exponential retry schedule. The n-th retry (0-based)
// waits BaseDelay * 2^n. MaxAttempts counts retries after the first try.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before retry n (0-based).
func (p Policy) Delay(n int) time.Duration {
	return p.BaseDelay << n
}

// BackOff returns a deterministic backoff that stops after MaxAttempts
// retries or when ctx is done.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(p.BaseDelay<<max(p.MaxAttempts, 1)),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(p.MaxAttempts, 0))), ctx)
}

// Package backoff implements retry policies and a context-aware retry loop.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Operation is the unit of work Retry re-runs until it succeeds, exhausts
// the policy, or hits a non-retriable error.
type Operation func(ctx context.Context) error

// IsRetriableFunc reports whether an error is worth another attempt. A nil
// func treats every error as retriable.
type IsRetriableFunc func(err error) bool

// Retry runs op, sleeping the policy-computed interval between attempts.
// The context cancels both the sleep and further attempts. When the policy
// is exhausted, the last operation error is returned rather than
// ErrRetriesExhausted.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if isRetriable != nil && !isRetriable(err) {
			return err
		}

		interval, policyErr := policy.ComputeNextInterval(attempt, err)
		if policyErr != nil {
			if errors.Is(policyErr, ErrRetriesExhausted) {
				return err
			}
			return policyErr
		}

		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
}

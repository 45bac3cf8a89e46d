package backoff

import (
	"errors"
	"time"
)

// ErrRetriesExhausted is returned when the maximum number of retries has
// been reached.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy computes the interval before the next retry attempt.
type RetryPolicy interface {
	// ComputeNextInterval returns the duration to wait before retry number
	// retryCount+1, or an error if no more retries should be attempted.
	ComputeNextInterval(retryCount int, err error) (time.Duration, error)
}

// LinearBackoffPolicy waits k*Interval before attempt k (1-indexed), capped
// at MaxInterval.
type LinearBackoffPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxRetries  int
}

// NewLinearBackoffPolicy creates a LinearBackoffPolicy with the given base
// interval and retry limit.
func NewLinearBackoffPolicy(interval time.Duration, maxRetries int) *LinearBackoffPolicy {
	return &LinearBackoffPolicy{Interval: interval, MaxRetries: maxRetries}
}

// ComputeNextInterval implements RetryPolicy.
func (p *LinearBackoffPolicy) ComputeNextInterval(retryCount int, _ error) (time.Duration, error) {
	if retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	interval := time.Duration(retryCount+1) * p.Interval
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		interval = p.MaxInterval
	}
	return interval, nil
}

// ExponentialBackoffPolicy waits Interval*2^(k-1) before attempt k
// (1-indexed), capped at MaxInterval.
type ExponentialBackoffPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxRetries  int
}

// NewExponentialBackoffPolicy creates an ExponentialBackoffPolicy with the
// given base interval and retry limit.
func NewExponentialBackoffPolicy(interval time.Duration, maxRetries int) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{Interval: interval, MaxRetries: maxRetries}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, _ error) (time.Duration, error) {
	if retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	interval := p.Interval << uint(retryCount)
	if interval <= 0 {
		// shift overflow
		interval = p.MaxInterval
	}
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		interval = p.MaxInterval
	}
	return interval, nil
}

// ConstantBackoffPolicy waits a fixed interval between retries.
type ConstantBackoffPolicy struct {
	Interval   time.Duration
	MaxRetries int
}

// NewConstantBackoffPolicy creates a ConstantBackoffPolicy.
func NewConstantBackoffPolicy(interval time.Duration, maxRetries int) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{Interval: interval, MaxRetries: maxRetries}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ error) (time.Duration, error) {
	if retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}

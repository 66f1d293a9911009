package model

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrInvalidRetryPolicy is returned by Validate for unusable settings.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy controls retries of collaborator calls.
//
// Delays grow exponentially from BaseDelay, capped at MaxDelay, with up to
// BaseDelay of random jitter added to each wait.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable decides which errors are retried. Nil means IsTransient.
	Retryable func(error) bool

	// OnRetry is called before each retry with the 1-based attempt that
	// just failed. It is not called for the final attempt.
	OnRetry func(attempt uint, err error)
}

// DefaultRetryPolicy retries transient failures three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    20 * time.Second,
	}
}

// Validate checks the policy is usable.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Do runs fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned unwrapped.
func (rp RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if err := rp.Validate(); err != nil {
		return err
	}

	retryable := rp.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(rp.MaxAttempts)),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	}
	if rp.BaseDelay > 0 {
		opts = append(opts,
			retry.Delay(rp.BaseDelay),
			retry.MaxJitter(rp.BaseDelay),
			retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		)
	} else {
		opts = append(opts, retry.Delay(0), retry.DelayType(retry.FixedDelay))
	}
	if rp.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(rp.MaxDelay))
	}
	if rp.OnRetry != nil {
		last := uint(rp.MaxAttempts)
		opts = append(opts, retry.OnRetry(func(n uint, err error) {
			if n+1 < last {
				rp.OnRetry(n+1, err)
			}
		}))
	}

	return retry.Do(fn, opts...)
}

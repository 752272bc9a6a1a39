package execution

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is the number of retries allowed
	// per fetch by the default retry policy
	DefaultMaxRetries = 9
	// DefaultInitialBackoff is the delay before the
	// first retry of the default retry policy
	DefaultInitialBackoff = 50 * time.Millisecond
	// DefaultMaxBackoff caps the delay between retries
	DefaultMaxBackoff = 5 * time.Second
)

// RetryPolicy decides whether a failed fetch is retried
// and how long to wait before retrying. A policy is used for
// a single fetch and may keep state between calls.
type RetryPolicy interface {
	ShouldRetry(err error) (bool, time.Duration)
}

// RetryPolicyFactory creates a fresh RetryPolicy for each fetch
type RetryPolicyFactory func() RetryPolicy

// DefaultRetryPolicyFactory creates backoff retry policies
// with the default settings
func DefaultRetryPolicyFactory() RetryPolicy {
	return NewBackoffRetryPolicy(DefaultMaxRetries, DefaultInitialBackoff, DefaultMaxBackoff)
}

// NoRetry is a RetryPolicyFactory whose policies never retry
func NoRetry() RetryPolicy {
	return noRetry{}
}

type noRetry struct{}

func (noRetry) ShouldRetry(error) (bool, time.Duration) {
	return false, 0
}

// BackoffRetryPolicy retries transient errors with
// exponential backoff up to a maximum number of retries.
// A retry-after hint from the store overrides a shorter
// backoff interval.
type BackoffRetryPolicy struct {
	backoff    *backoff.ExponentialBackOff
	maxRetries int
	retries    int
}

// NewBackoffRetryPolicy creates a BackoffRetryPolicy
func NewBackoffRetryPolicy(maxRetries int, initial time.Duration, maxInterval time.Duration) *BackoffRetryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return &BackoffRetryPolicy{backoff: b, maxRetries: maxRetries}
}

// ShouldRetry implements RetryPolicy.ShouldRetry
func (policy *BackoffRetryPolicy) ShouldRetry(err error) (bool, time.Duration) {
	if !IsTransient(err) || policy.retries >= policy.maxRetries {
		return false, 0
	}

	delay := policy.backoff.NextBackOff()

	if delay == backoff.Stop {
		return false, 0
	}

	var e *Error

	if errors.As(err, &e) && e.RetryAfter > delay {
		delay = e.RetryAfter
	}

	policy.retries++

	return true, delay
}

// ExecuteWithRetries executes request until it succeeds, the
// policy gives up or ctx is done. It returns the page and the
// number of retries spent. Errors for which isSplit returns true
// are returned immediately. Retrying a request addressed to a
// partition that no longer exists can't succeed.
func ExecuteWithRetries(ctx context.Context, policy RetryPolicy, isSplit SplitClassifier, execute Executor, request *Request) (Page, int, error) {
	retries := 0

	for {
		page, err := execute(ctx, request)

		if err == nil {
			return page, retries, nil
		}

		if isSplit(err) {
			return Page{}, retries, err
		}

		if ctx.Err() != nil {
			return Page{}, retries, ctx.Err()
		}

		retry, delay := policy.ShouldRetry(err)

		if !retry {
			return Page{}, retries, err
		}

		if err := sleep(ctx, delay); err != nil {
			return Page{}, retries, err
		}

		retries++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

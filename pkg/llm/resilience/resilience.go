// Package resilience provides retry with exponential backoff for calls to
// external backends (embedding, vector index, LLM).
//
// The backoff decision is a pure function of the attempt count and the error,
// so policies can be unit tested without real network calls.
package resilience

import (
	"context"
	"time"

	"github.com/kart-io/lexica/pkg/errors"
)

// Policy decides whether and when a failed attempt should be retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first call.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
	// Retryable decides whether an error is transient. Defaults to
	// errors.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used by the ingestion pipeline.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// OncePolicy returns the policy used on the retrieval and generation path:
// a single immediate retry before surfacing the error to the caller.
func OncePolicy() *Policy {
	return &Policy{
		MaxAttempts:  2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   1.0,
	}
}

// Decide returns the delay before the next attempt and whether to retry at
// all, given that attempt (1-based) just failed with err.
func (p *Policy) Decide(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}
	if !retryable(err) {
		return 0, false
	}

	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// Retry runs fn until it succeeds, the policy gives up, or the context is
// cancelled. The returned error is the one from the last attempt.
func Retry(ctx context.Context, policy *Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		delay, retry := policy.Decide(attempt, lastErr)
		if !retry {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

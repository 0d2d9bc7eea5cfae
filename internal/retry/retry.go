// Package retry wraps fallible operations with bounded retries and
// exponential backoff. Every outbound call in the bridge passes through it.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

// Policy controls retry behavior. The zero value is not usable; construct
// with DefaultPolicy and override fields as needed.
type Policy struct {
	// MaxAttempts bounds the total number of invocations, not the number
	// of retries. Must be >= 1.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// IsRetryable decides whether a failure is worth another attempt.
	IsRetryable func(error) bool
}

// DefaultPolicy returns the standard policy: 3 attempts, 1s initial delay
// doubling up to 30s, transient-network classification.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		IsRetryable:       provider.IsRetryable,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// ErrorKind implements provider.Classifiable.
func (e *ExhaustedError) ErrorKind() provider.Kind {
	return provider.KindExhausted
}

// Executor runs operations under a retry policy. Sleeps are cooperative:
// a canceled context interrupts the wait immediately.
type Executor struct {
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor.
func NewExecutor() *Executor {
	return &Executor{sleep: sleepCtx}
}

// Execute invokes op until it succeeds, fails non-retryably, or the
// policy's attempts are exhausted. A non-retryable error is returned
// unchanged; exhausted retryable failures return *ExhaustedError.
func (e *Executor) Execute(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	retryable := policy.IsRetryable
	if retryable == nil {
		retryable = provider.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, backoffDelay(policy, attempt)); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

// ExecuteValue runs an operation that produces a value under the policy.
func ExecuteValue[T any](ctx context.Context, e *Executor, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, policy, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// backoffDelay computes the wait after the given 1-based attempt:
// min(initial * multiplier^(attempt-1), max) plus up to 10% jitter.
func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay > 0 {
		jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))
		delay += jitter
	}
	return delay
}

// sleepCtx waits for d or until ctx is canceled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

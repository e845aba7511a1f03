// Package retry executes skill invocations with bounded exponential backoff.
// Only failures carrying a retryable dispatch code are retried; anything else
// fails fast.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
)

// Policy bounds retry behavior for one executor.
type Policy struct {
	MaxAttempts    int
	InitialDelayMs int
	MaxDelayMs     int
	RetryableCodes []string
}

// DefaultPolicy mirrors the built-in skill retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelayMs: 1000,
		MaxDelayMs:     30000,
		RetryableCodes: []string{"TIMEOUT", "RATE_LIMITED", "UNAVAILABLE"},
	}
}

// Executor runs an operation under a Policy. Sleep and Rand are injectable
// for deterministic tests; zero values fall back to the real clock and a
// shared PRNG.
type Executor struct {
	policy Policy
	sleep  func(context.Context, time.Duration) error
	rand   func() float64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleep replaces the delay function.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand replaces the jitter source. The function must return values in
// [0, 1).
func WithRand(r func() float64) Option {
	return func(e *Executor) { e.rand = r }
}

func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		policy: policy,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do invokes fn up to MaxAttempts times. Between attempts it sleeps for the
// backoff delay of the attempt that just failed. When every attempt fails
// the last error is returned as-is, unwrapped, so callers match on the
// dispatch code the final attempt carried.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !e.Retryable(err) {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, e.Delay(attempt)); err != nil {
			return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, err)
		}
	}
	return lastErr
}

// Retryable reports whether err carries a dispatch code listed in the
// policy's retryable codes.
func (e *Executor) Retryable(err error) bool {
	var dispatchErr *model.DispatchError
	if !errors.As(err, &dispatchErr) {
		return false
	}
	for _, code := range e.policy.RetryableCodes {
		if dispatchErr.Code == code {
			return true
		}
	}
	return false
}

// Delay computes the backoff after the given failed attempt (1-based):
// initial delay doubled per attempt, capped, plus up to 10% jitter.
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.policy.InitialDelayMs) * math.Pow(2, float64(attempt-1))
	if max := float64(e.policy.MaxDelayMs); e.policy.MaxDelayMs > 0 && base > max {
		base = max
	}
	jitter := math.Floor(base * 0.1 * e.rand())
	return time.Duration(base+jitter) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

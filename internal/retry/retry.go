// Package retry wraps flaky external operations (agent runs, network
// fetches) in bounded exponential backoff. It never mutates caller
// state; deciding what a successful attempt means is the caller's job.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAttemptsExhausted marks a terminal failure after the attempt
// bound was reached. It is never retryable.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy configures backoff behavior.
type Policy struct {
	// MaxAttempts bounds total attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// DefaultPolicy matches the original ralph loop: three attempts, 2s
// base delay doubling up to a 60s cap.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	Multiplier:  2.0,
	MaxDelay:    60 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	return p
}

// DelayFor returns the backoff delay after the given failed attempt
// (1-indexed): min(base * multiplier^(attempt-1), cap).
func (p Policy) DelayFor(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d < 0 {
		return p.MaxDelay
	}
	return d
}

// permanentError wraps an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: Run aborts immediately and
// returns the original error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Func is one attempt of the wrapped operation. attempt is 1-indexed.
type Func func(ctx context.Context, attempt int) error

// Outcome reports how a Run went.
type Outcome struct {
	// Attempts is how many attempts ran.
	Attempts int

	// LastErr is the error from the final attempt, nil on success.
	LastErr error
}

// Executor runs operations under a Policy.
type Executor struct {
	Policy Policy

	// OnAttempt, when set, observes every failed attempt along with
	// the delay before the next one (zero for the final attempt).
	OnAttempt func(attempt int, delay time.Duration, err error)
}

// Run invokes op until it succeeds, returns a permanent error, the
// attempt bound is exhausted, or ctx is cancelled. Sleeps between
// attempts honor context cancellation.
func (e *Executor) Run(ctx context.Context, op Func) (*Outcome, error) {
	policy := e.Policy.withDefaults()
	outcome := &Outcome{}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		outcome.Attempts = attempt
		err := op(ctx, attempt)
		if err == nil {
			outcome.LastErr = nil
			return outcome, nil
		}
		outcome.LastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			if e.OnAttempt != nil {
				e.OnAttempt(attempt, 0, perm.err)
			}
			outcome.LastErr = perm.err
			return outcome, perm.err
		}

		if attempt == policy.MaxAttempts {
			if e.OnAttempt != nil {
				e.OnAttempt(attempt, 0, err)
			}
			break
		}

		delay := policy.DelayFor(attempt)
		if e.OnAttempt != nil {
			e.OnAttempt(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case <-time.After(delay):
		}
	}

	return outcome, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, outcome.Attempts, outcome.LastErr)
}

// Run is a convenience wrapper using just a policy.
func Run(ctx context.Context, policy Policy, op Func) (*Outcome, error) {
	return (&Executor{Policy: policy}).Run(ctx, op)
}

// Package retry provides the backoff policy shared by every read path.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
)

// Policy configures retry behaviour with exponential backoff.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the wait between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter is the maximum jitter as a fraction of the delay (0-1).
	Jitter float64

	observer func(State)
}

// State describes a failed attempt. It is reported to the observer after
// every failure that is followed by another attempt or by exhaustion.
type State struct {
	Attempt     int
	MaxAttempts int
	LastError   error
}

// Exhausted reports whether no further attempt will be made.
func (s State) Exhausted() bool {
	return s.Attempt >= s.MaxAttempts
}

// DefaultPolicy returns the read policy: 3 attempts, 500ms doubling to 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: constants.RetryMaxAttempts,
		BaseDelay:   constants.RetryBaseDelay,
		MaxDelay:    constants.RetryMaxDelay,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// WithObserver returns a copy of p that reports every failed attempt to fn.
func (p Policy) WithObserver(fn func(State)) Policy {
	p.observer = fn
	return p
}

// Func is a retryable operation. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Delay returns the un-jittered wait after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is cancelled. The last error is returned with any
// Permanent wrapper removed.
func (p Policy) Do(ctx context.Context, fn Func) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if p.observer != nil {
			p.observer(State{Attempt: attempt, MaxAttempts: attempts, LastError: err})
		}
		if attempt == attempts {
			break
		}
		// The caller's own cancellation is not worth retrying.
		if ctx.Err() != nil {
			return lastErr
		}

		timer := time.NewTimer(jittered(p.Delay(attempt), p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 || base <= 0 {
		return base
	}
	// Range is [base*(1-factor), base*(1+factor)].
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(base) * (1 + jitter))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Package retry wraps calls to generation services with bounded retries and
// polls long-running remote jobs.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Backoff string

const (
	Linear      Backoff = "linear"
	Exponential Backoff = "exponential"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff
	// Sleep replaces the context-aware timer; tests use it to skip waiting.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   logrus.FieldLogger
}

// Result is what Do hands back. Err is the last error, annotated with the
// number of attempts; Do itself never panics.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Do runs op until it succeeds, fails permanently, the context ends or the
// attempt budget is spent.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var res Result[T]
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			res.Err = fmt.Errorf("stopped after %d attempt(s): %w", res.Attempts, errors.Join(ctx.Err(), lastErr))
			return res
		}

		res.Attempts = attempt
		value, err := call(ctx, op)
		if err == nil {
			res.Value = value
			return res
		}
		lastErr = err

		if !IsTransient(err) || attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if hint, ok := RetryAfter(err); ok {
			delay = p.capDelay(hint)
		}
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(err).Warn("transient failure, retrying")
		}
		if err := p.sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("stopped after %d attempt(s): %w", attempt, errors.Join(err, lastErr))
			return res
		}
	}

	res.Err = fmt.Errorf("failed after %d attempt(s): %w", res.Attempts, lastErr)
	return res
}

func call[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic: %v", r))
		}
	}()
	return op(ctx)
}

// Delay is the wait before attempt n+1: n*base for linear backoff,
// base*2^(n-1) for exponential, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff == Linear {
		return p.capDelay(time.Duration(attempt) * p.BaseDelay)
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		if err := p.Sleep(ctx, d); err != nil {
			return err
		}
		return ctx.Err()
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

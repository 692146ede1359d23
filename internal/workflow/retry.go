package workflow

import (
	"context"
	"errors"
	"math"
	"time"

	"finadvisor/backend/internal/apperr"
)

// RetryPolicy bounds exponential backoff for transient step failures.
type RetryPolicy struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// DefaultRetryPolicy allows four attempts, backing off 500ms, 1s, 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 20 * time.Second,
	}
}

// Backoff returns the wait before retry number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Retryable reports whether a step error may succeed on another attempt:
// errors marked transient, and per-attempt timeouts while the parent
// context is still alive.
func Retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// ceiling is hit, or ctx is done. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil || attempt >= limit || !Retryable(ctx, err) {
			return attempt, err
		}
		t := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

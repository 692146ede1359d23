package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"finadvisor/backend/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
}

func TestRetryPolicy_StopsAtCeiling(t *testing.T) {
	p := fastRetry()
	calls := 0

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return apperr.Transient(errors.New("503"))
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_AttemptTimeoutIsRetried(t *testing.T) {
	p := fastRetry()
	p.AttemptTimeout = 5 * time.Millisecond
	calls := 0

	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicy_CancelledParentStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := fastRetry().Do(ctx, func(ctx context.Context) error {
		return apperr.Transient(errors.New("503"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

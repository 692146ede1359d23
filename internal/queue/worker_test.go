package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func chatEvent(id string) models.ChatEvent {
	return models.ChatEvent{Type: models.EventChatMessageReceived, UserID: "u1", ChatID: "c1", MessageID: id, Text: "hello"}
}

// recorder counts handler calls per message.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) inc(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id]++
	return r.calls[id]
}

func (r *recorder) get(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func runWorker(t *testing.T, bus Bus, h Handler, cfg WorkerConfig) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(bus, h, cfg, logging.Nop())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestMemory_PublishIsGuarded(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()
	ctx := context.Background()

	ok, err := bus.Publish(ctx, chatEvent("m1"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = bus.Publish(ctx, chatEvent("m1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, bus.Len())

	require.NoError(t, bus.Requeue(ctx, chatEvent("m1")))
	assert.Equal(t, 2, bus.Len())

	d, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", d.Event.MessageID)
	assert.Equal(t, 1, d.Attempt)

	require.NoError(t, bus.Nack(ctx, d))
	_, err = bus.Receive(ctx)
	require.NoError(t, err)
	d, err = bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Attempt)
}

func TestMemory_ReceiveHonoursContextAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := bus.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, bus.Close())
	_, err = bus.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = bus.Publish(context.Background(), chatEvent("m2"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorker_RedeliversUntilSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewMemory()
	defer bus.Close()
	rec := &recorder{calls: map[string]int{}}
	done := make(chan struct{})

	stop := runWorker(t, bus, func(ctx context.Context, evt models.ChatEvent) error {
		if rec.inc(evt.MessageID) < 3 {
			return apperr.Transient(errors.New("store unavailable"))
		}
		close(done)
		return nil
	}, WorkerConfig{Concurrency: 2, MaxDeliveries: 5, ErrorBackoff: time.Millisecond})
	defer stop()

	_, err := bus.Publish(context.Background(), chatEvent("m1"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not redelivered")
	}
	assert.Equal(t, 3, rec.get("m1"))
}

func TestWorker_DropsPermanentAndExhausted(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewMemory()
	defer bus.Close()
	rec := &recorder{calls: map[string]int{}}

	stop := runWorker(t, bus, func(ctx context.Context, evt models.ChatEvent) error {
		rec.inc(evt.MessageID)
		if evt.MessageID == "bad" {
			return apperr.New(apperr.CodeValidation, "chat event needs userId")
		}
		return errors.New("run failed")
	}, WorkerConfig{Concurrency: 1, MaxDeliveries: 3, ErrorBackoff: time.Millisecond})

	ctx := context.Background()
	_, err := bus.Publish(ctx, chatEvent("bad"))
	require.NoError(t, err)
	_, err = bus.Publish(ctx, chatEvent("flaky"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.get("flaky") == 3 && bus.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 1, rec.get("bad"))
	assert.Equal(t, 3, rec.get("flaky"))
}

func TestPermanent(t *testing.T) {
	assert.True(t, permanent(apperr.New(apperr.CodeValidation, "x")))
	assert.True(t, permanent(apperr.NotFound("user %s", "u1")))
	assert.False(t, permanent(apperr.Wrap(apperr.CodeRequiredStep, "required step save", apperr.ErrNotFound)))
	assert.False(t, permanent(errors.New("boom")))
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/queue"
	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func beginRun(t *testing.T, store *workflow.MemoryStore, evt models.ChatEvent) models.WorkflowRun {
	t.Helper()
	input, err := json.Marshal(evt)
	require.NoError(t, err)
	run, _, err := store.BeginRun(context.Background(), models.WorkflowRun{
		ID:             "run-" + evt.MessageID,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.Type,
		UserID:         evt.UserID,
		Input:          input,
	})
	require.NoError(t, err)
	return run
}

func TestResumeStale(t *testing.T) {
	defer goleak.VerifyNone(t)
	runs := workflow.NewMemoryStore()
	bus := queue.NewMemory()
	defer bus.Close()

	stale := models.ChatEvent{Type: models.EventChatMessageReceived, UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "hi"}
	beginRun(t, runs, stale)
	done := beginRun(t, runs, models.ChatEvent{Type: models.EventChatMessageReceived, UserID: "u1", ChatID: "c1", MessageID: "m2", Text: "hi"})
	require.NoError(t, runs.SetRunStatus(context.Background(), done.ID, models.RunCompleted, nil, ""))

	s, err := New(runs, bus, Config{Spec: "@every 1h", StaleAfter: 10 * time.Minute, BatchSize: 10}, logging.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := s.ResumeStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, stale, d.Event)
}

func TestResumeStale_IgnoresFreshAndBrokenRuns(t *testing.T) {
	runs := workflow.NewMemoryStore()
	bus := queue.NewMemory()
	defer bus.Close()

	beginRun(t, runs, models.ChatEvent{Type: models.EventChatMessageReceived, UserID: "u1", MessageID: "fresh"})
	_, _, err := runs.BeginRun(context.Background(), models.WorkflowRun{
		ID: "broken", IdempotencyKey: "chat.message.received:broken", Input: json.RawMessage(`"not an event"`),
	})
	require.NoError(t, err)

	s, err := New(runs, bus, Config{Spec: "@every 1h", StaleAfter: 10 * time.Minute}, logging.Nop())
	require.NoError(t, err)

	n, err := s.ResumeStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh run is not stale yet")

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = s.ResumeStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the decodable run is requeued")
	assert.Equal(t, 1, bus.Len())
}

type failingBus struct{}

func (failingBus) Requeue(ctx context.Context, evt models.ChatEvent) error {
	return errors.New("redis down")
}

func TestResumeStale_RequeueFailure(t *testing.T) {
	runs := workflow.NewMemoryStore()
	beginRun(t, runs, models.ChatEvent{Type: models.EventChatMessageReceived, UserID: "u1", MessageID: "m1"})
	s, err := New(runs, failingBus{}, Config{Spec: "@every 1h", StaleAfter: time.Minute}, logging.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = s.ResumeStale(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(workflow.NewMemoryStore(), failingBus{}, Config{Spec: "every tuesday"}, logging.Nop())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, err := New(workflow.NewMemoryStore(), failingBus{}, Config{Spec: "@every 1h"}, logging.Nop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

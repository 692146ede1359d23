package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func newTestEngine(store RunStore, opts ...Option) *Engine {
	opts = append([]Option{WithRetryPolicy(fastRetry()), WithEventHub(NewEventHub())}, opts...)
	return NewEngine(store, logging.Nop(), opts...)
}

func trigger(key string) Trigger {
	return Trigger{Key: "chat.message.received:" + key, EventType: "chat.message.received", UserID: "u-1", Input: map[string]string{"text": "hi"}}
}

func TestExecute_StepsAreMemoizedAcrossRedelivery(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(store)
	ctx := context.Background()

	var extractCalls, saveCalls int32
	failSave := true
	handler := func(ctx context.Context, run *Run) (any, error) {
		n, err := Step(ctx, run, "extract", func(ctx context.Context) (int, error) {
			atomic.AddInt32(&extractCalls, 1)
			return 42, nil
		})
		if err != nil {
			return nil, err
		}
		saved, err := Step(ctx, run, "save", func(ctx context.Context) (string, error) {
			atomic.AddInt32(&saveCalls, 1)
			if failSave {
				return "", errors.New("document store unreachable")
			}
			return "saved", nil
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"n": n, "saved": saved}, nil
	}

	run, err := engine.Execute(ctx, trigger("m1"), handler)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, apperr.CodeRequiredStep, apperr.CodeOf(err))
	require.Len(t, run.Steps, 1, "a failed required step is not recorded")

	failSave = false
	run, err = engine.Execute(ctx, trigger("m1"), handler)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&extractCalls), "completed step must not re-run")
	assert.Equal(t, int32(2), atomic.LoadInt32(&saveCalls))
	assert.JSONEq(t, `{"n":42,"saved":"saved"}`, string(run.Output))
}

func TestExecute_DuplicateDeliveryOfCompletedRunIsNoop(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())
	ctx := context.Background()
	var calls int32
	handler := func(ctx context.Context, run *Run) (any, error) {
		atomic.AddInt32(&calls, 1)
		return Step(ctx, run, "only", func(ctx context.Context) (string, error) { return "ok", nil })
	}

	first, err := engine.Execute(ctx, trigger("dup"), handler)
	require.NoError(t, err)
	second, err := engine.Execute(ctx, trigger("dup"), handler)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.RunCompleted, second.Status)
}

func TestStep_RetriesTransientFailures(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())
	var attempts int32

	run, err := engine.Execute(context.Background(), trigger("retry"), func(ctx context.Context, run *Run) (any, error) {
		return Step(ctx, run, "flaky", func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return "", apperr.Transient(errors.New("503 from llm"))
			}
			return "done", nil
		})
	})

	require.NoError(t, err)
	rec, ok := run.Step("flaky")
	require.True(t, ok)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, models.StepCompleted, rec.Status)
}

func TestStep_PermanentErrorIsNotRetried(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())
	var attempts int32

	_, err := engine.Execute(context.Background(), trigger("perm"), func(ctx context.Context, run *Run) (any, error) {
		return Step(ctx, run, "bad", func(ctx context.Context) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", apperr.New(apperr.CodeValidation, "bad input")
		})
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestStep_OptionalExhaustionDegrades(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())

	run, err := engine.Execute(context.Background(), trigger("opt"), func(ctx context.Context, run *Run) (any, error) {
		_, serr := Step(ctx, run, "route", func(ctx context.Context) ([]string, error) {
			return nil, apperr.Transient(errors.New("timeout"))
		}, Optional())
		var se *StepError
		require.ErrorAs(t, serr, &se)
		assert.Equal(t, 3, se.Attempts)
		return "degraded", nil
	})

	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	rec, ok := run.Step("route")
	require.True(t, ok)
	assert.Equal(t, models.StepFailed, rec.Status)
	assert.Contains(t, rec.Error, "timeout")
}

func TestInvokeAll_IsolatesFailures(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())
	agent := func(ctx context.Context, in string) (string, error) {
		if in == "boom" {
			return "", errors.New("agent crashed")
		}
		return "answer:" + in, nil
	}

	var results []InvocationResult[string]
	run, err := engine.Execute(context.Background(), trigger("fan"), func(ctx context.Context, run *Run) (any, error) {
		var err error
		results, err = InvokeAll(ctx, run, []Invocation[string, string]{
			{Name: "invoke-tax", Target: agent, Input: "tax"},
			{Name: "invoke-schemes", Target: agent, Input: "boom"},
			{Name: "invoke-investment", Target: agent, Input: "invest"},
		})
		return len(results), err
	})

	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	require.Len(t, results, 3)
	assert.Equal(t, "answer:tax", results[0].Output)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "answer:invest", results[2].Output)
	rec, _ := run.Step("invoke-schemes")
	assert.Equal(t, models.StepFailed, rec.Status)
}

func TestInvoke_RequiredFailureFailsRun(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())

	run, err := engine.Execute(context.Background(), trigger("req"), func(ctx context.Context, run *Run) (any, error) {
		return Invoke(ctx, run, "invoke-critical", func(ctx context.Context, in int) (int, error) {
			return 0, errors.New("nope")
		}, 1, Required())
	})

	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.Error, "invoke-critical")
}

func TestExecute_AwaitInput(t *testing.T) {
	engine := newTestEngine(NewMemoryStore())

	run, err := engine.Execute(context.Background(), trigger("await"), func(ctx context.Context, run *Run) (any, error) {
		run.AwaitInput()
		return map[string]string{"clarification": "What is your age?"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, models.RunAwaitingInput, run.Status)
}

func TestExecute_TimeoutKeepsRecordedSteps(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(store, WithRunTimeout(50*time.Millisecond))
	var firstCalls int32
	block := true

	handler := func(ctx context.Context, run *Run) (any, error) {
		if _, err := Step(ctx, run, "first", func(ctx context.Context) (int, error) {
			atomic.AddInt32(&firstCalls, 1)
			return 1, nil
		}); err != nil {
			return nil, err
		}
		return Step(ctx, run, "slow", func(ctx context.Context) (int, error) {
			if block {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 2, nil
		})
	}

	run, err := engine.Execute(context.Background(), trigger("slow"), handler)
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, models.RunRunning, run.Status)
	require.Len(t, run.Steps, 1)

	block = false
	run, err = engine.Execute(context.Background(), trigger("slow"), handler)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstCalls))
}

// racingStore hides recorded steps from BeginRun, as if a second delivery
// started before the first one recorded anything.
type racingStore struct {
	*MemoryStore
}

func (s racingStore) BeginRun(ctx context.Context, run models.WorkflowRun) (models.WorkflowRun, bool, error) {
	stored, created, err := s.MemoryStore.BeginRun(ctx, run)
	stored.Steps = nil
	return stored, created, err
}

func TestStep_ConcurrentRecordKeepsFirstResult(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	key := trigger("race").Key
	stored, _, err := mem.BeginRun(ctx, models.WorkflowRun{ID: "run-1", IdempotencyKey: key, Status: models.RunRunning})
	require.NoError(t, err)
	require.NoError(t, mem.RecordStep(ctx, stored.ID, models.StepRecord{Name: "pick", Status: models.StepCompleted, Result: []byte(`"first"`)}))

	engine := newTestEngine(racingStore{mem})
	run, err := engine.Execute(ctx, trigger("race"), func(ctx context.Context, run *Run) (any, error) {
		return Step(ctx, run, "pick", func(ctx context.Context) (string, error) { return "second", nil })
	})

	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(run.Output))
	assert.Len(t, run.Steps, 1)
}

func TestExecute_PublishesEvents(t *testing.T) {
	hub := NewEventHub()
	engine := newTestEngine(NewMemoryStore(), WithEventHub(hub))
	key := trigger("events").Key
	events, cancel := hub.Subscribe(key)
	defer cancel()

	_, err := engine.Execute(context.Background(), trigger("events"), func(ctx context.Context, run *Run) (any, error) {
		return Step(ctx, run, "s1", func(ctx context.Context) (int, error) { return 1, nil })
	})
	require.NoError(t, err)

	var types []string
	for len(types) < 3 {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, []string{EventRunStarted, EventStepCompleted, EventRunCompleted}, types)
}

// Package workflow is the durable step runtime behind the advisory
// pipeline. A run is keyed by the triggering event's idempotency key; each
// named step's result is recorded once and replayed on redelivery, so a
// resumed run continues from the last completed step.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the logging surface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ErrRunTimeout is returned when the run-level deadline passes. The run
// stays running and every recorded step remains valid for a later resume.
var ErrRunTimeout = errors.New("workflow run timed out")

// Trigger identifies the event that starts or resumes a run.
type Trigger struct {
	Key       string
	EventType string
	UserID    string
	Input     any
}

// Handler is the body of a workflow. It calls Step, Invoke and InvokeAll on
// run and returns the run's output.
type Handler func(ctx context.Context, run *Run) (any, error)

// Engine executes handlers against a RunStore.
type Engine struct {
	store       RunStore
	retry       RetryPolicy
	timeout     time.Duration
	concurrency int
	hub         *EventHub
	metrics     *Metrics
	tracer      trace.Tracer
	logger      Logger
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithRetryPolicy(p RetryPolicy) Option { return func(e *Engine) { e.retry = p } }

// WithRunTimeout bounds a whole delivery. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithConcurrency caps parallel invocations within InvokeAll.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

func WithEventHub(h *EventHub) Option { return func(e *Engine) { e.hub = h } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an Engine.
func NewEngine(store RunStore, logger Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		retry:       DefaultRetryPolicy(),
		timeout:     time.Minute,
		concurrency: 4,
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Hub returns the engine's event hub, which may be nil.
func (e *Engine) Hub() *EventHub { return e.hub }

// Store returns the underlying run store.
func (e *Engine) Store() RunStore { return e.store }

// Execute creates or resumes the run for trigger.Key and runs h. A run that
// already completed or is awaiting input is returned as-is without calling
// h. A failed run is resumed: recorded steps replay, the rest execute.
func (e *Engine) Execute(ctx context.Context, trigger Trigger, h Handler) (models.WorkflowRun, error) {
	input, err := json.Marshal(trigger.Input)
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("failed to marshal trigger input: %w", err)
	}
	stored, created, err := e.store.BeginRun(ctx, models.WorkflowRun{
		ID:             uuid.NewString(),
		IdempotencyKey: trigger.Key,
		EventType:      trigger.EventType,
		UserID:         trigger.UserID,
		Status:         models.RunRunning,
		Input:          input,
	})
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("failed to begin run %s: %w", trigger.Key, err)
	}
	if stored.Status == models.RunCompleted || stored.Status == models.RunAwaitingInput {
		e.logger.Info("duplicate delivery for finished run", "run_key", stored.IdempotencyKey, "status", stored.Status)
		return stored, nil
	}

	run := newRun(e, stored)
	if created {
		e.publish(RunEvent{Type: EventRunStarted, RunKey: run.key, Status: string(models.RunRunning)})
	} else {
		e.logger.Info("resuming run", "run_key", run.key, "recorded_steps", len(stored.Steps))
		e.publish(RunEvent{Type: EventRunResumed, RunKey: run.key, Status: string(models.RunRunning)})
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	output, herr := h(runCtx, run)

	// Status writes must land even when the run context has expired.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finishCancel()

	if herr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn("run timed out, leaving it resumable", "run_key", run.key, "error", herr)
			e.publish(RunEvent{Type: EventRunTimedOut, RunKey: run.key, Status: string(models.RunRunning), Error: herr.Error()})
			e.metrics.runFinished(finishCtx, "timed_out")
			return e.reload(finishCtx, run, stored), fmt.Errorf("%w: %s", ErrRunTimeout, herr.Error())
		}
		if ctx.Err() != nil {
			// Caller gave up (shutdown); the run is left running for redelivery.
			return e.reload(finishCtx, run, stored), herr
		}
		if serr := e.store.SetRunStatus(finishCtx, run.id, models.RunFailed, nil, herr.Error()); serr != nil {
			e.logger.Error("failed to mark run failed", "run_key", run.key, "error", serr)
		}
		e.logger.Error("run failed", "run_key", run.key, "error", herr)
		e.publish(RunEvent{Type: EventRunFailed, RunKey: run.key, Status: string(models.RunFailed), Error: herr.Error()})
		e.metrics.runFinished(finishCtx, string(models.RunFailed))
		return e.reload(finishCtx, run, stored), herr
	}

	status := models.RunCompleted
	evt := EventRunCompleted
	if run.awaitingInput() {
		status = models.RunAwaitingInput
		evt = EventRunAwaitingInput
	}
	out, err := json.Marshal(output)
	if err != nil {
		return stored, fmt.Errorf("failed to marshal run output: %w", err)
	}
	if err := e.store.SetRunStatus(finishCtx, run.id, status, out, ""); err != nil {
		return stored, fmt.Errorf("failed to record run status: %w", err)
	}
	e.logger.Info("run finished", "run_key", run.key, "status", status)
	e.publish(RunEvent{Type: evt, RunKey: run.key, Status: string(status)})
	e.metrics.runFinished(finishCtx, string(status))
	return e.reload(finishCtx, run, stored), nil
}

func (e *Engine) reload(ctx context.Context, run *Run, fallback models.WorkflowRun) models.WorkflowRun {
	r, err := e.store.GetRun(ctx, run.key)
	if err != nil {
		e.logger.Warn("failed to reload run", "run_key", run.key, "error", err)
		return fallback
	}
	return r
}

func (e *Engine) publish(evt RunEvent) {
	if e.hub != nil {
		e.hub.Publish(evt)
	}
}

// Run is the handle a Handler uses to execute steps. It is safe for use by
// the goroutines InvokeAll starts.
type Run struct {
	engine *Engine
	id     string
	key    string
	userID string

	mu       sync.Mutex
	steps    map[string]models.StepRecord
	awaiting bool
}

func newRun(e *Engine, stored models.WorkflowRun) *Run {
	r := &Run{
		engine: e,
		id:     stored.ID,
		key:    stored.IdempotencyKey,
		userID: stored.UserID,
		steps:  make(map[string]models.StepRecord, len(stored.Steps)),
	}
	for _, s := range stored.Steps {
		r.steps[s.Name] = s
	}
	return r
}

func (r *Run) ID() string     { return r.id }
func (r *Run) Key() string    { return r.key }
func (r *Run) UserID() string { return r.userID }

// AwaitInput marks the run as waiting on the user. The handler should
// return right after; the run finishes in the awaiting-input state.
func (r *Run) AwaitInput() {
	r.mu.Lock()
	r.awaiting = true
	r.mu.Unlock()
}

func (r *Run) awaitingInput() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awaiting
}

func (r *Run) lookup(name string) (models.StepRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[name]
	return s, ok
}

func (r *Run) remember(s models.StepRecord) {
	r.mu.Lock()
	r.steps[s.Name] = s
	r.mu.Unlock()
}

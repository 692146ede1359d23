package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/pkg/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// StepError reports a step that did not produce a result.
type StepError struct {
	Step     string
	Required bool
	Attempts int
	Replayed bool // the failure was recorded by an earlier delivery
	Err      error
}

func (e *StepError) Error() string {
	kind := "optional"
	if e.Required {
		kind = "required"
	}
	return fmt.Sprintf("%s step %q failed after %d attempt(s): %v", kind, e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type stepConfig struct {
	required bool
	retry    *RetryPolicy
	kind     string
}

// StepOption adjusts a single step.
type StepOption func(*stepConfig)

// Optional lets the run continue when the step exhausts its retries. The
// failure is recorded under the step name.
func Optional() StepOption { return func(c *stepConfig) { c.required = false } }

// Required fails the whole run when the step exhausts its retries.
func Required() StepOption { return func(c *stepConfig) { c.required = true } }

// WithStepRetry overrides the engine retry policy for one step.
func WithStepRetry(p RetryPolicy) StepOption { return func(c *stepConfig) { c.retry = &p } }

// Step runs fn under name at most once per run. A completed record is
// replayed by decoding its result into T; fn is not called. Steps are
// required unless Optional is passed.
func Step[T any](ctx context.Context, r *Run, name string, fn func(ctx context.Context) (T, error), opts ...StepOption) (T, error) {
	cfg := stepConfig{required: true, kind: "step"}
	for _, o := range opts {
		o(&cfg)
	}
	return runStep(ctx, r, name, cfg, fn)
}

// Invoke calls an agent as a step. Failures are isolated: unless Required
// is passed, an exhausted invocation records an error result and the caller
// gets a *StepError to degrade on, while the run carries on.
func Invoke[I, O any](ctx context.Context, r *Run, name string, target func(ctx context.Context, in I) (O, error), input I, opts ...StepOption) (O, error) {
	cfg := stepConfig{required: false, kind: "invoke"}
	for _, o := range opts {
		o(&cfg)
	}
	return runStep(ctx, r, name, cfg, func(ctx context.Context) (O, error) {
		return target(ctx, input)
	})
}

// Invocation is one call for InvokeAll.
type Invocation[I, O any] struct {
	Name   string
	Target func(ctx context.Context, in I) (O, error)
	Input  I
}

// InvocationResult pairs an invocation with its outcome.
type InvocationResult[O any] struct {
	Name   string
	Output O
	Err    error
}

// InvokeAll dispatches independent invocations concurrently, bounded by the
// engine's concurrency. Results keep the order of calls. The returned error
// is non-nil only when a Required invocation fails.
func InvokeAll[I, O any](ctx context.Context, r *Run, calls []Invocation[I, O], opts ...StepOption) ([]InvocationResult[O], error) {
	results := make([]InvocationResult[O], len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if n := r.engine.concurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, call := range calls {
		g.Go(func() error {
			out, err := Invoke(gctx, r, call.Name, call.Target, call.Input, opts...)
			results[i] = InvocationResult[O]{Name: call.Name, Output: out, Err: err}
			var se *StepError
			if errors.As(err, &se) && se.Required {
				return err
			}
			return nil
		})
	}
	return results, g.Wait()
}

func runStep[T any](ctx context.Context, r *Run, name string, cfg stepConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := r.engine

	if rec, ok := r.lookup(name); ok {
		e.metrics.stepFinished(ctx, name, "replayed", 0, 0)
		e.publish(RunEvent{Type: EventStepReplayed, RunKey: r.key, Step: name, Status: string(rec.Status)})
		return replay[T](rec)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ctx, span := e.tracer.Start(ctx, cfg.kind+" "+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.run_key", r.key),
		attribute.String("workflow.step", name),
		attribute.Bool("workflow.step.required", cfg.required),
	)

	policy := e.retry
	if cfg.retry != nil {
		policy = *cfg.retry
	}
	started := e.now().UTC()
	var result T
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	finished := e.now().UTC()
	span.SetAttributes(attribute.Int("workflow.step.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		serr := &StepError{Step: name, Required: cfg.required, Attempts: attempts, Err: err}
		e.metrics.stepFinished(ctx, name, "failed", attempts, finished.Sub(started))
		e.publish(RunEvent{Type: EventStepFailed, RunKey: r.key, Step: name, Status: string(models.StepFailed), Error: err.Error()})

		// A cancelled run and a required failure both leave no record, so a
		// later delivery retries the step.
		if ctx.Err() != nil || cfg.required {
			e.logger.Error("step failed", "run_key", r.key, "step", name, "attempts", attempts, "required", cfg.required, "error", err)
			if cfg.required {
				return zero, apperr.Wrap(apperr.CodeRequiredStep, "required step "+name, serr)
			}
			return zero, serr
		}
		e.logger.Warn("optional step failed, continuing", "run_key", r.key, "step", name, "attempts", attempts, "error", err)
		rec := models.StepRecord{
			Name:       name,
			Status:     models.StepFailed,
			Error:      err.Error(),
			Attempts:   attempts,
			StartedAt:  started,
			FinishedAt: finished,
		}
		stored, raced, rerr := record(ctx, r, rec)
		if rerr != nil {
			return zero, rerr
		}
		if raced && stored.Status == models.StepCompleted {
			return replay[T](stored)
		}
		return zero, serr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal result of step %s: %w", name, err)
	}
	rec := models.StepRecord{
		Name:       name,
		Status:     models.StepCompleted,
		Result:     payload,
		Attempts:   attempts,
		StartedAt:  started,
		FinishedAt: finished,
	}
	stored, raced, err := record(ctx, r, rec)
	if err != nil {
		return zero, err
	}
	e.metrics.stepFinished(ctx, name, "completed", attempts, finished.Sub(started))
	e.publish(RunEvent{Type: EventStepCompleted, RunKey: r.key, Step: name, Status: string(models.StepCompleted)})
	if raced {
		// A concurrent delivery recorded first; its result wins.
		return replay[T](stored)
	}
	return result, nil
}

// record persists rec, retrying transient store errors. When another
// delivery already recorded the step it returns that record and raced=true.
func record(ctx context.Context, r *Run, rec models.StepRecord) (stored models.StepRecord, raced bool, err error) {
	e := r.engine
	wctx := context.WithoutCancel(ctx)
	_, err = e.retry.Do(wctx, func(ctx context.Context) error {
		return e.store.RecordStep(ctx, r.id, rec)
	})
	if err == nil {
		r.remember(rec)
		return rec, false, nil
	}
	if !apperr.IsConflict(err) {
		return models.StepRecord{}, false, fmt.Errorf("failed to record step %s: %w", rec.Name, err)
	}
	run, gerr := e.store.GetRun(wctx, r.key)
	if gerr != nil {
		return models.StepRecord{}, false, fmt.Errorf("failed to load conflicting step %s: %w", rec.Name, gerr)
	}
	existing, ok := run.Step(rec.Name)
	if !ok {
		return models.StepRecord{}, false, fmt.Errorf("step %s conflict without record: %w", rec.Name, err)
	}
	e.logger.Info("step already recorded by another delivery", "run_key", r.key, "step", rec.Name)
	r.remember(existing)
	return existing, true, nil
}

func replay[T any](rec models.StepRecord) (T, error) {
	var v T
	if rec.Status == models.StepFailed {
		return v, &StepError{Step: rec.Name, Attempts: rec.Attempts, Replayed: true, Err: errors.New(rec.Error)}
	}
	if len(rec.Result) == 0 || string(rec.Result) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(rec.Result, &v); err != nil {
		return v, fmt.Errorf("failed to decode recorded step %s: %w", rec.Name, err)
	}
	return v, nil
}

package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "finadvisor/backend/internal/workflow"

// Metrics are the engine's OpenTelemetry instruments.
type Metrics struct {
	runs         metric.Int64Counter
	steps        metric.Int64Counter
	retries      metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// NewMetrics registers instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	runs, err := meter.Int64Counter("workflow_runs_total",
		metric.WithDescription("Workflow runs finished, by status."))
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter("workflow_steps_total",
		metric.WithDescription("Workflow steps executed, by name and outcome."))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("workflow_step_retries_total",
		metric.WithDescription("Extra attempts made for transient step failures."))
	if err != nil {
		return nil, err
	}
	dur, err := meter.Float64Histogram("workflow_step_duration_seconds",
		metric.WithDescription("Wall time of executed (not replayed) steps."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{runs: runs, steps: steps, retries: retries, stepDuration: dur}, nil
}

func (m *Metrics) runFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) stepFinished(ctx context.Context, name, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("step", name), attribute.String("outcome", outcome))
	m.steps.Add(ctx, 1, attrs)
	if outcome != "replayed" {
		m.stepDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if attempts > 1 {
		m.retries.Add(ctx, int64(attempts-1), metric.WithAttributes(attribute.String("step", name)))
	}
}

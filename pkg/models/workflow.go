package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunRunning       RunStatus = "running"
	RunAwaitingInput RunStatus = "awaiting-input"
	RunCompleted     RunStatus = "completed"
	RunFailed        RunStatus = "failed"
)

// Terminal reports whether no further steps will execute for the run
// without a new triggering event.
func (s RunStatus) Terminal() bool {
	return s == RunAwaitingInput || s == RunCompleted || s == RunFailed
}

// StepStatus is the outcome recorded for a step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// WorkflowRun is the durable record of one triggered execution.
type WorkflowRun struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"` // {eventType}:{messageId}
	EventType      string          `json:"eventType"`
	UserID         string          `json:"userId"`
	Status         RunStatus       `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	Steps          []StepRecord    `json:"steps"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Step returns the record for name, if present.
func (r *WorkflowRun) Step(name string) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}

// StepRecord is the memoized outcome of one named step.
type StepRecord struct {
	Name       string          `json:"name"`
	Status     StepStatus      `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

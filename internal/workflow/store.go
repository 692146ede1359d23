package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/pkg/models"
)

// RunStore persists runs and their step records. RecordStep must reject a
// second record for the same (run, step name) with an apperr conflict; that
// rejection is what makes a step name recorded at most once.
type RunStore interface {
	// BeginRun inserts run if its idempotency key is new and returns the
	// stored run with its steps. created is false for an existing key. A
	// failed run found here is moved back to running so it can resume.
	BeginRun(ctx context.Context, run models.WorkflowRun) (stored models.WorkflowRun, created bool, err error)
	GetRun(ctx context.Context, key string) (models.WorkflowRun, error)
	RecordStep(ctx context.Context, runID string, step models.StepRecord) error
	SetRunStatus(ctx context.Context, runID string, status models.RunStatus, output json.RawMessage, errMsg string) error
	// ListRuns returns runs in status last updated before the cutoff, oldest first.
	ListRuns(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]models.WorkflowRun, error)
}

// MemoryStore is a RunStore for tests and single-process development.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*models.WorkflowRun // by idempotency key
	byID map[string]string              // run id -> key
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: map[string]*models.WorkflowRun{},
		byID: map[string]string{},
		now:  time.Now,
	}
}

func (s *MemoryStore) BeginRun(ctx context.Context, run models.WorkflowRun) (models.WorkflowRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[run.IdempotencyKey]; ok {
		if existing.Status == models.RunFailed {
			existing.Status = models.RunRunning
			existing.Error = ""
			existing.UpdatedAt = s.now().UTC()
		}
		return cloneRun(existing), false, nil
	}
	now := s.now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	run.Steps = nil
	stored := cloneRun(&run)
	s.runs[run.IdempotencyKey] = &stored
	s.byID[run.ID] = run.IdempotencyKey
	return cloneRun(&stored), true, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, key string) (models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[key]
	if !ok {
		return models.WorkflowRun{}, apperr.NotFound("run %s", key)
	}
	return cloneRun(r), nil
}

func (s *MemoryStore) RecordStep(ctx context.Context, runID string, step models.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupByID(runID)
	if err != nil {
		return err
	}
	if _, exists := r.Step(step.Name); exists {
		return apperr.New(apperr.CodeConflict, "step "+step.Name+" already recorded")
	}
	r.Steps = append(r.Steps, step)
	r.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SetRunStatus(ctx context.Context, runID string, status models.RunStatus, output json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupByID(runID)
	if err != nil {
		return err
	}
	r.Status = status
	if output != nil {
		r.Output = append(json.RawMessage(nil), output...)
	}
	r.Error = errMsg
	r.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkflowRun
	for _, r := range s.runs {
		if r.Status == status && r.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) lookupByID(runID string) (*models.WorkflowRun, error) {
	key, ok := s.byID[runID]
	if !ok {
		return nil, apperr.NotFound("run id %s", runID)
	}
	return s.runs[key], nil
}

func cloneRun(r *models.WorkflowRun) models.WorkflowRun {
	c := *r
	c.Steps = append([]models.StepRecord(nil), r.Steps...)
	return c
}

// Package scheduler periodically re-publishes the trigger events of runs
// that have stayed running too long, typically because the worker that
// held them died. Resume semantics make a duplicate delivery harmless.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finadvisor/backend/internal/logging"
	"finadvisor/backend/pkg/models"

	"github.com/robfig/cron/v3"
)

// RunLister finds runs by status and age.
type RunLister interface {
	ListRuns(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]models.WorkflowRun, error)
}

// Requeuer enqueues an event bypassing the enqueue guard.
type Requeuer interface {
	Requeue(ctx context.Context, evt models.ChatEvent) error
}

type Config struct {
	Spec       string
	StaleAfter time.Duration
	BatchSize  int
}

type Scheduler struct {
	cron *cron.Cron
	runs RunLister
	bus  Requeuer
	cfg  Config
	log  *logging.Logger
	now  func() time.Time
}

// New schedules the stale-run sweep on cfg.Spec. Call Start to run it.
func New(runs RunLister, bus Requeuer, cfg Config, log *logging.Logger) (*Scheduler, error) {
	s := &Scheduler{runs: runs, bus: bus, cfg: cfg, log: log, now: time.Now}
	cl := cronLogger{log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("failed to schedule stale-run sweep %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.ResumeStale(ctx); err != nil {
		s.log.Error("stale-run sweep failed", "error", err)
	}
}

// ResumeStale requeues the trigger event of every run still running after
// StaleAfter and returns how many were requeued.
func (s *Scheduler) ResumeStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	runs, err := s.runs.ListRuns(ctx, models.RunRunning, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale runs: %w", err)
	}

	requeued := 0
	for _, run := range runs {
		var evt models.ChatEvent
		if err := json.Unmarshal(run.Input, &evt); err != nil || evt.MessageID == "" {
			s.log.Warn("stale run has no usable trigger event", "run_id", run.ID, "error", err)
			continue
		}
		if evt.IdempotencyKey() != run.IdempotencyKey {
			s.log.Warn("stale run input does not match its key", "run_id", run.ID, "key", run.IdempotencyKey)
			continue
		}
		if err := s.bus.Requeue(ctx, evt); err != nil {
			return requeued, fmt.Errorf("failed to requeue run %s: %w", run.ID, err)
		}
		requeued++
		s.log.Info("requeued stale run", "run_id", run.ID, "key", run.IdempotencyKey, "updated_at", run.UpdatedAt)
	}
	return requeued, nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{ l *logging.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

package queue

import (
	"context"
	"errors"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/pkg/models"

	"golang.org/x/sync/errgroup"
)

// Handler processes one event. A returned error triggers redelivery unless
// it is permanent.
type Handler func(ctx context.Context, evt models.ChatEvent) error

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxDeliveries int           `mapstructure:"max_deliveries"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{Concurrency: 4, MaxDeliveries: 5, ErrorBackoff: time.Second}
}

// Worker pulls deliveries from a Bus with a fixed number of goroutines.
type Worker struct {
	bus    Bus
	handle Handler
	cfg    WorkerConfig
	log    *logging.Logger
}

func NewWorker(bus Bus, handle Handler, cfg WorkerConfig, log *logging.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = def.MaxDeliveries
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	return &Worker{bus: bus, handle: handle, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled or the bus is closed.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.loop(ctx, i) })
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) error {
	log := w.log.With("worker", id)
	for {
		d, err := w.bus.Receive(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			log.Warn("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.process(ctx, log, d)
	}
}

func (w *Worker) process(ctx context.Context, log *logging.Logger, d Delivery) {
	log = log.With("delivery", d.ID, "run_key", d.Event.IdempotencyKey(), "attempt", d.Attempt)
	err := w.handle(ctx, d.Event)

	// Settle even when shutdown cancelled ctx mid-run.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch {
	case err == nil:
		w.ack(settleCtx, log, d)
	case permanent(err):
		log.Error("dropping event with permanent error", "error", err)
		w.ack(settleCtx, log, d)
	case ctx.Err() != nil:
		log.Info("shutdown during run, leaving event for redelivery")
		w.nack(settleCtx, log, d)
	case d.Attempt >= w.cfg.MaxDeliveries:
		log.Error("delivery budget spent, dropping event", "error", err)
		w.ack(settleCtx, log, d)
	default:
		log.Warn("run did not finish, will redeliver", "error", err)
		w.nack(settleCtx, log, d)
	}
}

func (w *Worker) ack(ctx context.Context, log *logging.Logger, d Delivery) {
	if err := w.bus.Ack(ctx, d); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func (w *Worker) nack(ctx context.Context, log *logging.Logger, d Delivery) {
	if err := w.bus.Nack(ctx, d); err != nil && !errors.Is(err, ErrClosed) {
		log.Error("nack failed", "error", err)
	}
}

// permanent errors would fail identically on every redelivery.
func permanent(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation, apperr.CodeForbidden, apperr.CodeNotFound, apperr.CodeUnauthorized:
		return true
	}
	return false
}

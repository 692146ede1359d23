// Package queue carries chat events from ingress to the workflow workers.
// Delivery is at-least-once: an event whose handler fails is redelivered
// until it succeeds or its delivery budget is spent, and the workflow's
// idempotency key makes repeated deliveries safe.
package queue

import (
	"context"
	"errors"

	"finadvisor/backend/pkg/models"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("queue closed")

// Delivery is one receipt of an event.
type Delivery struct {
	ID      string
	Event   models.ChatEvent
	Attempt int // 1 on first delivery
}

// Bus is a durable-enough event queue with an enqueue guard.
type Bus interface {
	// Publish enqueues evt unless an event with the same idempotency key
	// was already published; enqueued reports which happened.
	Publish(ctx context.Context, evt models.ChatEvent) (enqueued bool, err error)
	// Requeue enqueues evt bypassing the guard. It resumes stale runs.
	Requeue(ctx context.Context, evt models.ChatEvent) error
	// Receive blocks until a delivery is available or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	// Ack settles d for good.
	Ack(ctx context.Context, d Delivery) error
	// Nack makes d available for redelivery.
	Nack(ctx context.Context, d Delivery) error
	Close() error
}

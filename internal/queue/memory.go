package queue

import (
	"context"
	"sync"

	"finadvisor/backend/pkg/models"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-process Bus for a single-binary deployment and tests.
// Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	pending []Delivery
	guard   map[string]struct{}
	ready   chan struct{}
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{guard: map[string]struct{}{}, ready: make(chan struct{}, 1)}
}

func (m *Memory) Publish(ctx context.Context, evt models.ChatEvent) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	key := evt.IdempotencyKey()
	if _, dup := m.guard[key]; dup {
		m.mu.Unlock()
		return false, nil
	}
	m.guard[key] = struct{}{}
	m.mu.Unlock()
	return true, m.push(Delivery{ID: ulid.Make().String(), Event: evt, Attempt: 1})
}

func (m *Memory) Requeue(ctx context.Context, evt models.ChatEvent) error {
	return m.push(Delivery{ID: ulid.Make().String(), Event: evt, Attempt: 1})
}

func (m *Memory) push(d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending = append(m.pending, d)
	m.signal()
	return nil
}

// signal wakes one receiver; callers hold mu.
func (m *Memory) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *Memory) Receive(ctx context.Context) (Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		if len(m.pending) > 0 {
			d := m.pending[0]
			m.pending = m.pending[1:]
			if len(m.pending) > 0 {
				m.signal()
			}
			m.mu.Unlock()
			return d, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-m.ready:
		}
	}
}

func (m *Memory) Ack(ctx context.Context, d Delivery) error { return nil }

func (m *Memory) Nack(ctx context.Context, d Delivery) error {
	d.Attempt++
	return m.push(d)
}

// Len is the number of deliveries waiting.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ready)
	}
	return nil
}

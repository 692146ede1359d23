package workflow

import (
	"sync"
	"time"
)

// Event types published while a run executes.
const (
	EventRunStarted       = "run.started"
	EventRunResumed       = "run.resumed"
	EventStepCompleted    = "step.completed"
	EventStepFailed       = "step.failed"
	EventStepReplayed     = "step.replayed"
	EventRunCompleted     = "run.completed"
	EventRunAwaitingInput = "run.awaiting_input"
	EventRunFailed        = "run.failed"
	EventRunTimedOut      = "run.timed_out"
)

// RunEvent is streamed to clients watching a run.
type RunEvent struct {
	Type         string `json:"type"`
	RunKey       string `json:"runKey"`
	Step         string `json:"step,omitempty"`
	Status       string `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
	TSUnixMillis int64  `json:"ts"`
}

// Terminal reports whether no more events follow for this delivery.
func (e RunEvent) Terminal() bool {
	switch e.Type {
	case EventRunCompleted, EventRunAwaitingInput, EventRunFailed, EventRunTimedOut:
		return true
	}
	return false
}

// EventHub is an in-memory pub/sub keyed by run idempotency key. It keeps a
// bounded replay buffer per run so late subscribers still see early events,
// and forgets the oldest runs once more than maxRuns have buffered events.
type EventHub struct {
	mu        sync.Mutex
	subs      map[string]map[chan RunEvent]struct{}
	replay    map[string][]RunEvent
	order     []string
	maxReplay int
	maxRuns   int
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs:      map[string]map[chan RunEvent]struct{}{},
		replay:    map[string][]RunEvent{},
		maxReplay: 200,
		maxRuns:   1024,
	}
}

// Subscribe returns a channel of events for key, starting with the replay
// buffer, and a cancel func that must be called exactly once.
func (h *EventHub) Subscribe(key string) (<-chan RunEvent, func()) {
	h.mu.Lock()
	replay := append([]RunEvent(nil), h.replay[key]...)
	ch := make(chan RunEvent, len(replay)+64)
	for _, evt := range replay {
		ch <- evt
	}
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = map[chan RunEvent]struct{}{}
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m, ok := h.subs[key]; ok {
				delete(m, ch)
				if len(m) == 0 {
					delete(h.subs, key)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish fans evt out without blocking; slow subscribers drop events.
func (h *EventHub) Publish(evt RunEvent) {
	if evt.TSUnixMillis == 0 {
		evt.TSUnixMillis = time.Now().UTC().UnixMilli()
	}
	key := evt.RunKey

	h.mu.Lock()
	if _, ok := h.replay[key]; !ok {
		h.order = append(h.order, key)
		if len(h.order) > h.maxRuns {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.replay, oldest)
		}
	}
	h.replay[key] = append(h.replay[key], evt)
	if n := len(h.replay[key]); n > h.maxReplay {
		h.replay[key] = h.replay[key][n-h.maxReplay:]
	}
	for ch := range h.subs[key] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
}

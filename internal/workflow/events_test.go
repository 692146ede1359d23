package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventHub_ReplayThenLive(t *testing.T) {
	hub := NewEventHub()
	hub.Publish(RunEvent{Type: EventRunStarted, RunKey: "k"})

	ch, cancel := hub.Subscribe("k")
	defer cancel()
	hub.Publish(RunEvent{Type: EventRunCompleted, RunKey: "k"})
	hub.Publish(RunEvent{Type: EventRunStarted, RunKey: "other"})

	first := <-ch
	second := <-ch
	assert.Equal(t, EventRunStarted, first.Type)
	assert.NotZero(t, first.TSUnixMillis)
	assert.Equal(t, EventRunCompleted, second.Type)
	assert.True(t, second.Terminal())
	assert.Empty(t, ch)
}

func TestEventHub_CancelIsIdempotent(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe("k")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	hub.Publish(RunEvent{Type: EventRunStarted, RunKey: "k"})
}

func TestEventHub_BoundsRetainedRuns(t *testing.T) {
	hub := NewEventHub()
	hub.maxRuns = 2
	for i := 0; i < 3; i++ {
		hub.Publish(RunEvent{Type: EventRunStarted, RunKey: fmt.Sprintf("k%d", i)})
	}

	ch, cancel := hub.Subscribe("k0")
	defer cancel()
	assert.Empty(t, ch)
	assert.Len(t, hub.replay, 2)
}

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

func TestPublishDispatchesToMatchingSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	var mu sync.Mutex
	var received []sessionstate.Event
	done := make(chan struct{}, 1)

	bus.Subscribe(sessionstate.EventUserMessage, func(ev sessionstate.Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(sessionstate.Event{EventID: "e1", Type: sessionstate.EventUserMessage})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "e1", received[0].EventID)
}

func TestSubscriberOnlyReceivesItsType(t *testing.T) {
	bus := New()
	defer bus.Close()

	calls := make(chan sessionstate.Event, 4)
	bus.Subscribe(sessionstate.EventToolCall, func(ev sessionstate.Event) { calls <- ev })

	bus.Publish(sessionstate.Event{EventID: "a", Type: sessionstate.EventUserMessage})
	bus.Publish(sessionstate.Event{EventID: "b", Type: sessionstate.EventToolCall})

	select {
	case ev := <-calls:
		assert.Equal(t, "b", ev.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected one tool_call event")
	}

	select {
	case ev := <-calls:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	calls := make(chan sessionstate.Event, 4)
	id := bus.Subscribe(sessionstate.EventMetric, func(ev sessionstate.Event) { calls <- ev })
	bus.Unsubscribe(id)

	bus.Publish(sessionstate.Event{EventID: "x", Type: sessionstate.EventMetric})

	select {
	case ev := <-calls:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLogCapsAtMaxSize(t *testing.T) {
	bus := New()
	defer bus.Close()
	bus.maxLogSize = 5

	for i := 0; i < 20; i++ {
		bus.Publish(sessionstate.Event{EventID: "e", Type: sessionstate.EventMetric})
	}

	require.Eventually(t, func() bool {
		return len(bus.Log("", 0)) == 5
	}, time.Second, 10*time.Millisecond)
}

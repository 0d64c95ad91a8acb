package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

func TestAppendAndReadEventsRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	sid := "sess-1"

	require.NoError(t, store.AppendEvent(ctx, sid, sessionstate.Event{
		EventID: "e1", Type: sessionstate.EventUserMessage, Source: "user",
		Payload: map[string]any{"text": "hello"},
	}))
	require.NoError(t, store.AppendEvent(ctx, sid, sessionstate.Event{
		EventID: "e2", Type: sessionstate.EventAgentResponse, Source: "worker",
		Payload: map[string]any{"text": "hi"},
	}))

	events, err := store.ReadEvents(ctx, sid)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, sessionstate.EventAgentResponse, events[1].Type)
}

func TestReadEventsUnknownSessionReturnsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	events, err := store.ReadEvents(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListAndDeleteSession(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, "a", sessionstate.Event{EventID: "1", Type: sessionstate.EventSessionStart}))
	require.NoError(t, store.AppendEvent(ctx, "b", sessionstate.Event{EventID: "2", Type: sessionstate.EventSessionStart}))

	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, store.DeleteSession(ctx, "a"))
	ids, err = store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

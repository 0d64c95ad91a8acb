package hitl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

func newStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSuspendMarksStateAndRecordsPending(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")

	require.NoError(t, c.Suspend(state, "destructive write requires approval", map[string]any{"path": "/etc/passwd"}))

	assert.Equal(t, sessionstate.StatusSuspended, state.Status)
	require.NotNil(t, state.HITL)
	assert.Equal(t, "destructive write requires approval", state.HITL.Reason)

	p, ok := c.GetPending(state.SessionID)
	require.True(t, ok)
	assert.Equal(t, "destructive write requires approval", p.Reason)
}

func TestResumeApproveReturnsRunningState(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	resumed, err := c.Resume(state.SessionID, ActionApprove, nil)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, sessionstate.StatusRunning, resumed.Status)
	assert.Nil(t, resumed.HITL)

	_, stillPending := c.GetPending(state.SessionID)
	assert.False(t, stillPending)
}

func TestResumeRejectReturnsNilAndMarksFailed(t *testing.T) {
	c := NewController(newStore(t))
	store := c.store
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	resumed, err := c.Resume(state.SessionID, ActionReject, nil)
	require.NoError(t, err)
	assert.Nil(t, resumed)

	latest, err := store.Load(state.SessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, sessionstate.StatusFailed, latest.State.Status)
}

func TestResumeModifyAppliesEntities(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	resumed, err := c.Resume(state.SessionID, ActionModify, map[string]any{"approved_amount": 42})
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, 42, resumed.Entities["approved_amount"])
	assert.Equal(t, sessionstate.StatusRunning, resumed.Status)
}

func TestResumeUnknownSessionReturnsError(t *testing.T) {
	c := NewController(newStore(t))
	_, err := c.Resume("does-not-exist", ActionApprove, nil)
	assert.Error(t, err)
}

func TestExpireOverdueRejectsStaleRequests(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	c.mu.Lock()
	p := c.pending[state.SessionID]
	p.RequestedAt = time.Now().Add(-time.Hour)
	c.pending[state.SessionID] = p
	c.mu.Unlock()

	rejected := c.ExpireOverdue(time.Minute)
	assert.Equal(t, []string{state.SessionID}, rejected)

	latest, err := c.store.Load(state.SessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, sessionstate.StatusFailed, latest.State.Status)
}

func TestAwaitApprovalAppliesRespondedAction(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	channel := NewCLIChannel()
	go channel.Respond(ActionApprove, "looks fine")

	resumed, err := c.AwaitApproval(state.SessionID, channel, time.Second)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, sessionstate.StatusRunning, resumed.Status)
}

func TestAwaitApprovalTimesOutAsReject(t *testing.T) {
	c := NewController(newStore(t))
	state := sessionstate.New("worker")
	require.NoError(t, c.Suspend(state, "needs approval", nil))

	channel := NewCLIChannel()
	resumed, err := c.AwaitApproval(state.SessionID, channel, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, resumed)

	latest, err := c.store.Load(state.SessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, sessionstate.StatusFailed, latest.State.Status)
}

func TestAwaitApprovalUnknownSessionReturnsError(t *testing.T) {
	c := NewController(newStore(t))
	_, err := c.AwaitApproval("does-not-exist", NewCLIChannel(), time.Second)
	assert.Error(t, err)
}

func TestListPendingReflectsOutstandingRequests(t *testing.T) {
	c := NewController(newStore(t))
	s1 := sessionstate.New("worker")
	s2 := sessionstate.New("worker")
	require.NoError(t, c.Suspend(s1, "reason 1", nil))
	require.NoError(t, c.Suspend(s2, "reason 2", nil))

	assert.Len(t, c.ListPending(), 2)

	_, err := c.Resume(s1.SessionID, ActionApprove, nil)
	require.NoError(t, err)
	assert.Len(t, c.ListPending(), 1)
}

package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadExactStep(t *testing.T) {
	store := openTestStore(t)
	state := sessionstate.New("worker")
	state.NextStep() // step 1

	require.NoError(t, store.Save(state, KindTransaction, PhasePreLLM, "first"))

	step := state.Step
	loaded, err := store.Load(state.SessionID, &step)
	require.NoError(t, err)
	assert.Equal(t, state.SessionID, loaded.State.SessionID)
	assert.Equal(t, state.Step, loaded.State.Step)
	assert.Equal(t, KindTransaction, loaded.Kind)
}

func TestLoadWithoutStepReturnsHighest(t *testing.T) {
	store := openTestStore(t)
	state := sessionstate.New("worker")

	state.NextStep()
	require.NoError(t, store.Save(state, KindMilestone, PhasePostLLM, "step-1"))
	state.NextStep()
	require.NoError(t, store.Save(state, KindMilestone, PhasePostLLM, "step-2"))

	loaded, err := store.Load(state.SessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.State.Step)
}

func TestLoadUnknownReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load("no-such-session", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRollbackDeletesForwardSteps(t *testing.T) {
	store := openTestStore(t)
	state := sessionstate.New("worker")

	for i := 0; i < 3; i++ {
		state.NextStep()
		require.NoError(t, store.Save(state, KindMilestone, PhasePostLLM, ""))
	}
	// state.Step == 3 now.

	restored, err := store.Rollback(state.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored.Step)

	remaining, err := store.List(state.SessionID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(1), remaining[0].Step)
}

func TestDeleteSessionRemovesAllCheckpoints(t *testing.T) {
	store := openTestStore(t)
	state := sessionstate.New("worker")
	state.NextStep()
	require.NoError(t, store.Save(state, KindTransaction, PhasePreLLM, ""))

	require.NoError(t, store.DeleteSession(state.SessionID))

	_, err := store.Load(state.SessionID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesSameKey(t *testing.T) {
	store := openTestStore(t)
	state := sessionstate.New("worker")
	state.NextStep()

	require.NoError(t, store.Save(state, KindTransaction, PhasePreLLM, "v1"))
	state.TurnNumber = 5
	require.NoError(t, store.Save(state, KindTransaction, PhasePreLLM, "v2"))

	loaded, err := store.Load(state.SessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.Label)
	assert.Equal(t, 5, loaded.State.TurnNumber)

	all, err := store.List(state.SessionID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

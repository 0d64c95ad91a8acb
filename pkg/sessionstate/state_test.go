package sessionstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	s := New("default")
	s.AppendMessage(Message{Role: RoleUser, Content: "hello"})
	s.TurnNumber = 3
	s.Entities["name"] = "ada"
	s.NextStep()

	data, err := s.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, s.Step, got.Step)
	assert.Equal(t, s.Status, got.Status)
	assert.Equal(t, s.TurnNumber, got.TurnNumber)
	assert.Equal(t, s.Entities, got.Entities)
	assert.Equal(t, len(s.ConversationHistory), len(got.ConversationHistory))
}

func TestValidateHITLInvariant(t *testing.T) {
	s := New("default")
	assert.NoError(t, s.Validate())

	s.Status = StatusSuspended
	assert.Error(t, s.Validate(), "SUSPENDED without hitl_context must fail validation")

	s.HITL = &HITLContext{Reason: "needs approval", Function: "delete_file"}
	assert.NoError(t, s.Validate())

	s.Status = StatusRunning
	assert.Error(t, s.Validate(), "non-SUSPENDED with a live hitl_context must fail validation")
}

func TestEscalateClearsCurrentAgent(t *testing.T) {
	s := New("default")
	s.SetCurrentAgent("local-worker")
	require.NotNil(t, s.CurrentAgent)

	s.Escalate()
	assert.Nil(t, s.CurrentAgent)
}

func TestHandoffTruncatesToLastN(t *testing.T) {
	s := New("default")
	for i := 0; i < 10; i++ {
		s.AppendMessage(Message{Role: RoleUser, Content: "m"})
	}
	h := s.Handoff(3)
	assert.Len(t, h.RecentMessages, 3)
}

func TestStepNeverDecreasesOutsideRollback(t *testing.T) {
	s := New("default")
	var last int64
	for i := 0; i < 5; i++ {
		step := s.NextStep()
		assert.Greater(t, step, last)
		last = step
	}
}

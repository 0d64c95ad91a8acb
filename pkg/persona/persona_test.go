package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersona(t *testing.T, dir, id, displayName, prompt string) {
	t.Helper()
	body := "id: " + id + "\ndisplay_name: \"" + displayName + "\"\nsystem_prompt: \"" + prompt + "\"\ntemperature: 0.5\nallowed_tools: [\"read_file\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0644))
}

func TestSwitchLoadsAndCachesPersona(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "worker", "Worker", "You implement code.")
	writePersona(t, dir, "devil", "Devil's Advocate", "You attack proposals.")

	m := NewManager(DirLoader{Dir: dir}, "worker")
	require.NotNil(t, m.Current())
	assert.Equal(t, "worker", m.CurrentID())

	p, err := m.Switch("devil", "debate: attack phase")
	require.NoError(t, err)
	assert.Equal(t, "Devil's Advocate", p.DisplayName)
	assert.Equal(t, "devil", m.CurrentID())

	transitions := m.Transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, "worker", transitions[0].From)
	assert.Equal(t, "devil", transitions[0].To)
}

func TestTransitionMessageReferencesOldAndNewRole(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "worker", "Worker", "Implement.")
	writePersona(t, dir, "moderator", "Moderator", "Judge.")

	m := NewManager(DirLoader{Dir: dir}, "worker")
	_, err := m.Switch("moderator", "debate: judgment phase")
	require.NoError(t, err)

	msg := m.TransitionMessage()
	assert.Contains(t, msg, "worker")
	assert.Contains(t, msg, "Moderator")
}

func TestSystemPromptRendersVars(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "worker", "Worker", "Hello {{.name}}.")

	m := NewManager(DirLoader{Dir: dir}, "worker")
	rendered := m.SystemPrompt(map[string]string{"name": "Ada"})
	assert.Equal(t, "Hello Ada.", rendered)
}

func TestSwitchUnknownPersonaReturnsErrorWithoutMutatingCurrent(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "worker", "Worker", "Implement.")

	m := NewManager(DirLoader{Dir: dir}, "worker")
	_, err := m.Switch("does-not-exist", "bad switch")
	assert.Error(t, err)
	assert.Equal(t, "worker", m.CurrentID())
}

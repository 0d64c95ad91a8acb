package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExpandsEnvAndMergesDefaults(t *testing.T) {
	t.Setenv("CONCLAVE_TEST_PERSONA", "researcher")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
system:
  default_persona: "${CONCLAVE_TEST_PERSONA}"
  debate_max_rounds: 5
security:
  sandbox_enabled: true
`)
	require.NoError(t, os.WriteFile(path, body, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "researcher", cfg.System.DefaultPersona)
	assert.Equal(t, 5, cfg.System.DebateMaxRounds)
	assert.True(t, cfg.Security.SandboxEnabled)
	// Fields untouched by the document keep their defaults.
	assert.Equal(t, 7.0, cfg.System.DebateApprovalThreshold)
	assert.Equal(t, 5, cfg.Security.MaxExecutionTime)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadPersonaDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewer.yaml")
	body := []byte(`
id: reviewer
display_name: "Reviewer"
system_prompt: "You are a careful reviewer."
temperature: 0.2
allowed_tools: ["read_file"]
`)
	require.NoError(t, os.WriteFile(path, body, 0644))

	doc, err := LoadPersonaDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", doc.ID)
	assert.Equal(t, 0.2, doc.Temperature)
	assert.Equal(t, []string{"read_file"}, doc.AllowedTools)
}

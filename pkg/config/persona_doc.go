package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PersonaDocument is the on-disk shape of a persona YAML file, consumed
// by pkg/persona when loading a persona by id.
type PersonaDocument struct {
	ID            string            `yaml:"id"`
	DisplayName   string            `yaml:"display_name"`
	SystemPrompt  string            `yaml:"system_prompt"`
	Temperature   float64           `yaml:"temperature"`
	TopP          float64           `yaml:"top_p"`
	MaxTokens     int               `yaml:"max_tokens"`
	AllowedTools  []string          `yaml:"allowed_tools"`
	VoiceTone     string            `yaml:"voice_tone"`
	Vars          map[string]string `yaml:"vars"`
}

// LoadPersonaDocument reads and parses a single persona YAML document.
func LoadPersonaDocument(path string) (*PersonaDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file %q: %w", path, err)
	}

	var doc PersonaDocument
	if err := yaml.Unmarshal(expandEnv(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %q: %w", path, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("persona file %q missing required 'id' field", path)
	}
	return &doc, nil
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the orchestrator's base configuration document
// and per-persona documents.
//
// Configuration is treated as an opaque key-value + template provider
// by the rest of the system: this package is the one place that knows
// it is backed by YAML files on disk.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// System holds the `system.*` top-level configuration keys.
type System struct {
	DefaultPersona            string  `yaml:"default_persona"`
	DebateMaxRounds            int     `yaml:"debate_max_rounds"`
	DebateApprovalThreshold    float64 `yaml:"debate_approval_threshold"`
	DebateAutoTriggerOnCloud   bool    `yaml:"debate_auto_trigger_on_cloud"`
	DebateEscalateOnExhaustion bool    `yaml:"debate_escalate_on_exhaustion"`
	CheckpointEnabled          bool    `yaml:"checkpoint_enabled"`
	PersonaWatch               bool    `yaml:"persona_watch"`
	MaxToolSteps               int     `yaml:"max_tool_steps"`
	MaxCriticRounds            int     `yaml:"max_critic_rounds"`
	HITLTimeoutSeconds         int     `yaml:"hitl_timeout_seconds"`
}

// Security holds the `security.*` top-level configuration keys.
type Security struct {
	AllowedReadPaths   []string `yaml:"allowed_read_paths"`
	AllowedWritePaths  []string `yaml:"allowed_write_paths"`
	BlockedCommands    []string `yaml:"blocked_commands"`
	MaxExecutionTime   int      `yaml:"max_execution_time"`
	SandboxEnabled     bool     `yaml:"sandbox_enabled"`
}

// Models configures which model ids back the LOCAL worker and CLOUD tiers.
type Models struct {
	WorkerModel string `yaml:"worker_model"`
	CloudModel  string `yaml:"cloud_model"`
	CriticModel string `yaml:"critic_model"`
	RouterModel string `yaml:"router_model"`
}

// Config is the fully parsed base configuration document.
type Config struct {
	System   System   `yaml:"system"`
	Security Security `yaml:"security"`
	Models   Models   `yaml:"models"`
}

// Default returns a Config populated with sensible runtime defaults.
func Default() *Config {
	return &Config{
		System: System{
			DefaultPersona:          "assistant",
			DebateMaxRounds:         3,
			DebateApprovalThreshold: 7.0,
			CheckpointEnabled:       true,
			MaxToolSteps:            5,
			MaxCriticRounds:         2,
			HITLTimeoutSeconds:      300,
		},
		Security: Security{
			MaxExecutionTime: 5,
			SandboxEnabled:   false,
		},
	}
}

// Load reads and parses the configuration document at path, applying
// environment-variable expansion (${VAR} placeholders) so secrets can be
// referenced by name instead of written into the file in plain text.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	expanded := expandEnv(raw)

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} placeholders with the corresponding
// environment variable value, leaving unset variables untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// HITLTimeout returns the configured HITL wait timeout as a time.Duration.
func (c *Config) HITLTimeout() time.Duration {
	return time.Duration(c.System.HITLTimeoutSeconds) * time.Second
}

// SandboxTimeout returns the configured sandbox execution timeout.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Security.MaxExecutionTime) * time.Second
}

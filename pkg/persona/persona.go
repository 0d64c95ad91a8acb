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

// Package persona implements the Persona Manager: a registry-cached,
// hot-swappable system-prompt bundle with transition logging and a
// re-anchoring message sent to the model on every switch.
//
// Grounded on the original prototype's engine/persona.py
// (PersonaManager: registry-cached load, switch_persona's transition
// log, get_transition_message's re-anchoring text, get_temperature,
// get_allowed_tools) adapted to a YAML-document config-loading
// convention and a generic Registry[T] for the in-memory persona
// cache.
package persona

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/parallax-labs/conclave/pkg/config"
	"github.com/parallax-labs/conclave/pkg/registry"
)

// Persona is the loaded, ready-to-use form of a persona document.
type Persona struct {
	ID           string
	DisplayName  string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	AllowedTools []string
	VoiceTone    string
	Vars         map[string]string
}

func fromDocument(doc *config.PersonaDocument) *Persona {
	return &Persona{
		ID:           doc.ID,
		DisplayName:  doc.DisplayName,
		SystemPrompt: doc.SystemPrompt,
		Temperature:  doc.Temperature,
		TopP:         doc.TopP,
		MaxTokens:    doc.MaxTokens,
		AllowedTools: doc.AllowedTools,
		VoiceTone:    doc.VoiceTone,
		Vars:         doc.Vars,
	}
}

// Transition records one persona switch, for audit and for building the
// re-anchoring transition message.
type Transition struct {
	From      string
	To        string
	Reason    string
	Timestamp time.Time
}

// Loader resolves a persona id to its parsed persona document.
type Loader interface {
	Load(id string) (*config.PersonaDocument, error)
}

// DirLoader loads persona documents named "<id>.yaml" under a directory.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(id string) (*config.PersonaDocument, error) {
	return config.LoadPersonaDocument(l.Dir + "/" + id + ".yaml")
}

// Manager is the Persona Manager: it caches loaded personas, tracks the
// currently active one, and logs every switch.
type Manager struct {
	mu         sync.RWMutex
	loader     Loader
	cache      *registry.BaseRegistry[*Persona]
	currentID  string
	current    *Persona
	transitions []Transition
}

// NewManager creates a Manager whose default persona is defaultID,
// loaded eagerly via loader.
func NewManager(loader Loader, defaultID string) *Manager {
	m := &Manager{
		loader:    loader,
		cache:     registry.NewBaseRegistry[*Persona](),
		currentID: defaultID,
	}
	if p, err := m.resolve(defaultID); err == nil {
		m.current = p
	}
	return m
}

func (m *Manager) resolve(id string) (*Persona, error) {
	if p, ok := m.cache.Get(id); ok {
		return p, nil
	}
	doc, err := m.loader.Load(id)
	if err != nil {
		return nil, fmt.Errorf("persona: failed to load %q: %w", id, err)
	}
	p := fromDocument(doc)
	m.cache.Register(id, p)
	return p, nil
}

// CurrentID returns the currently active persona id.
func (m *Manager) CurrentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentID
}

// Current returns the currently active persona, or nil if none loaded.
func (m *Manager) Current() *Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transitions returns the switch history in order.
func (m *Manager) Transitions() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// Switch hot-swaps the active persona, recording the transition.
func (m *Manager) Switch(id, reason string) (*Persona, error) {
	next, err := m.resolve(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = append(m.transitions, Transition{
		From:      m.currentID,
		To:        id,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	m.currentID = id
	m.current = next
	return next, nil
}

// SystemPrompt renders the current persona's system prompt, substituting
// any vars supplied in context (falling back to the persona document's
// own Vars for any key context omits).
func (m *Manager) SystemPrompt(context map[string]string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return "You are a helpful AI assistant."
	}
	if len(context) == 0 && len(m.current.Vars) == 0 {
		return m.current.SystemPrompt
	}

	vars := make(map[string]string, len(m.current.Vars)+len(context))
	for k, v := range m.current.Vars {
		vars[k] = v
	}
	for k, v := range context {
		vars[k] = v
	}

	tmpl, err := template.New("system_prompt").Parse(m.current.SystemPrompt)
	if err != nil {
		return m.current.SystemPrompt
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return m.current.SystemPrompt
	}
	return buf.String()
}

// TransitionMessage builds the re-anchoring message told to the model
// after a persona switch, so its attention follows the new role instead
// of carrying over the previous persona's framing.
func (m *Manager) TransitionMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.transitions) == 0 {
		return ""
	}
	last := m.transitions[len(m.transitions)-1]
	newName := last.To
	if m.current != nil {
		newName = m.current.DisplayName
	}
	return fmt.Sprintf(
		"[SYSTEM NOTICE] Your role has changed from %q to %q. "+
			"Re-evaluate the conversation so far from this new perspective. "+
			"Do not defer to conclusions you reached under the previous role.",
		last.From, newName,
	)
}

// Temperature returns the current persona's sampling temperature.
func (m *Manager) Temperature() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0.7
	}
	return m.current.Temperature
}

// AllowedTools returns the current persona's tool allow-list.
func (m *Manager) AllowedTools() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.AllowedTools
}

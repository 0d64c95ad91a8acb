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

// Package sessionstate defines the central durable entity the orchestrator
// mutates on every request: SessionState, plus its constituent Message,
// Event, and Metadata types.
//
// SessionState is owned by exactly one Orchestrator instance at a time.
// All other components receive it by reference and must only mutate it
// through its helper methods (AppendMessage, NextStep, Suspend, Resume,
// Escalate, SetCurrentAgent) so that the
// invariants below always hold.
package sessionstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusPaused     Status = "PAUSED"
	StatusSuspended  Status = "SUSPENDED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation history.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   MessageMeta    `json:"metadata,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ExtraAttrs map[string]any `json:"extra_attrs,omitempty"`
}

// MessageMeta records handler identity, cache hit, validation outcome,
// and streaming flag for a Message.
type MessageMeta struct {
	Handler          string `json:"handler,omitempty"`
	CacheHit         bool   `json:"cache_hit,omitempty"`
	ValidationPassed *bool  `json:"validation_passed,omitempty"`
	Streaming        bool   `json:"streaming,omitempty"`
}

// HITLContext records the pending approval reason when a session is
// SUSPENDED. Invariant: status == SUSPENDED iff hitl_context is
// non-empty.
type HITLContext struct {
	Reason   string         `json:"reason"`
	Function string         `json:"function"`
	Args     map[string]any `json:"args,omitempty"`
}

// IsEmpty reports whether this HITLContext carries no pending request.
func (h *HITLContext) IsEmpty() bool {
	return h == nil || (h.Reason == "" && h.Function == "")
}

// Metadata carries creation time, token usage, and cost estimate.
type Metadata struct {
	CreatedAt      time.Time `json:"created_at"`
	PromptTokens   int64     `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// SessionState is the central durable entity the orchestrator mutates
// on every request.
type SessionState struct {
	SessionID           string         `json:"session_id"`
	Step                int64          `json:"step"`
	Status              Status         `json:"status"`
	TurnNumber           int            `json:"turn_number"`
	ConversationHistory []Message      `json:"conversation_history"`
	InternalSummary      string         `json:"internal_summary"`
	Entities             map[string]any `json:"entities"`
	Artifacts            map[string]any `json:"artifacts"`
	CurrentAgent         *string        `json:"current_agent"`
	ActivePersona        string         `json:"active_persona"`
	RetryCount           int            `json:"retry_count"`
	Metadata             Metadata       `json:"metadata"`
	HITL                 *HITLContext   `json:"hitl_context,omitempty"`
}

// New creates a fresh SessionState for a first user interaction.
func New(activePersona string) *SessionState {
	return &SessionState{
		SessionID:     uuid.NewString(),
		Step:          0,
		Status:        StatusRunning,
		TurnNumber:    0,
		Entities:      make(map[string]any),
		Artifacts:     make(map[string]any),
		ActivePersona: activePersona,
		Metadata:      Metadata{CreatedAt: time.Now()},
	}
}

// Validate checks the invariants a SessionState must always satisfy.
func (s *SessionState) Validate() error {
	suspended := s.Status == StatusSuspended
	hasHITL := s.HITL != nil && !s.HITL.IsEmpty()
	if suspended != hasHITL {
		return fmt.Errorf("invariant violation: status=%s but hitl_context empty=%v", s.Status, !hasHITL)
	}
	return nil
}

// AppendMessage appends a message to the conversation history.
func (s *SessionState) AppendMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.ConversationHistory = append(s.ConversationHistory, m)
}

// Escalate clears the sticky routing hint: current_agent is cleared
// on any escalation.
func (s *SessionState) Escalate() {
	s.CurrentAgent = nil
	s.RetryCount = 0
}

// SetCurrentAgent sets the sticky routing hint.
func (s *SessionState) SetCurrentAgent(agent string) {
	s.CurrentAgent = &agent
}

// NextStep increments and returns the monotonic step counter. The step
// counter never decreases outside of a rollback operation.
func (s *SessionState) NextStep() int64 {
	s.Step++
	return s.Step
}

// Suspend transitions the state to SUSPENDED with the given HITL context.
func (s *SessionState) Suspend(ctx HITLContext) {
	s.Status = StatusSuspended
	s.HITL = &ctx
}

// Resume clears the HITL context and returns the state to RUNNING.
func (s *SessionState) Resume() {
	s.Status = StatusRunning
	s.HITL = nil
}

// HandoffContext is the condensed summary sent between agents to bound
// prompt size.
type HandoffContext struct {
	InternalSummary string         `json:"internal_summary"`
	Entities        map[string]any `json:"entities"`
	TurnNumber      int            `json:"turn_number"`
	RecentMessages  []Message      `json:"recent_messages"`
}

// Handoff builds a HandoffContext carrying at most the last N messages.
func (s *SessionState) Handoff(lastN int) HandoffContext {
	recent := s.ConversationHistory
	if len(recent) > lastN {
		recent = recent[len(recent)-lastN:]
	}
	cp := make([]Message, len(recent))
	copy(cp, recent)
	return HandoffContext{
		InternalSummary: s.InternalSummary,
		Entities:        s.Entities,
		TurnNumber:      s.TurnNumber,
		RecentMessages:  cp,
	}
}

// Serialize converts the SessionState to a self-contained JSON byte
// sequence. Must round-trip losslessly through Deserialize.
func (s *SessionState) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil session state")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a SessionState from JSON bytes produced by Serialize.
func Deserialize(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty data")
	}
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &s, nil
}

// Clone returns a deep-enough copy for use as a checkpoint snapshot:
// round-trips through JSON to avoid aliasing slices/maps with the live state.
func (s *SessionState) Clone() (*SessionState, error) {
	data, err := s.Serialize()
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

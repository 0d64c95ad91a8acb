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

// Package hitl implements the Human-in-the-Loop Controller: suspending
// a session pending a sensitive-operation approval, and resuming it
// once a human approves, rejects, or modifies the pending request.
//
// Grounded on the original prototype's engine/hitl.py (HITLManager:
// suspend saves a checkpoint and records an in-memory pending-approval
// entry; resume loads the checkpoint, branches on approve/reject/
// modify, and always clears the pending entry; get_pending/list_pending
// for inspecting outstanding requests) adapted to pkg/checkpoint.Store
// and pkg/sessionstate.SessionState.
package hitl

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/eventbus"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// Action is the human's disposition of a pending approval request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
)

// Pending records one outstanding approval request.
type Pending struct {
	SessionID   string
	Reason      string
	Context     map[string]any
	Step        int64
	RequestedAt time.Time
}

// Expired reports whether this request has sat unanswered longer than
// timeout, the point at which a caller should treat silence as an
// implicit rejection rather than waiting indefinitely for a human.
func (p Pending) Expired(timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.Sub(p.RequestedAt) > timeout
}

// Controller suspends and resumes sessions around a checkpoint.Store,
// tracking outstanding requests in memory so a caller can list and
// inspect them without a full checkpoint load.
type Controller struct {
	store *checkpoint.Store
	bus   *eventbus.Bus

	mu      sync.Mutex
	pending map[string]Pending
}

// NewController creates a Controller backed by store.
func NewController(store *checkpoint.Store) *Controller {
	return &Controller{store: store, pending: make(map[string]Pending)}
}

// WithEventBus attaches bus so Suspend/Resume publish
// EventApprovalRequest/EventApprovalResponse and AwaitApproval can
// hand callers an EventBusChannel. Returns c for chaining at
// construction time.
func (c *Controller) WithEventBus(bus *eventbus.Bus) *Controller {
	c.bus = bus
	return c
}

// Suspend transitions state to SUSPENDED, checkpoints it, and records
// the pending-approval entry for later inspection.
func (c *Controller) Suspend(state *sessionstate.SessionState, reason string, ctxArgs map[string]any) error {
	state.Suspend(sessionstate.HITLContext{Reason: reason, Args: ctxArgs})

	if err := c.store.Save(state, checkpoint.KindTransaction, checkpoint.PhaseToolApproval, "HITL: "+reason); err != nil {
		return fmt.Errorf("hitl: failed to checkpoint suspended session: %w", err)
	}

	c.mu.Lock()
	c.pending[state.SessionID] = Pending{
		SessionID:   state.SessionID,
		Reason:      reason,
		Context:     ctxArgs,
		Step:        state.Step,
		RequestedAt: time.Now(),
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(sessionstate.Event{
			EventID:   uuid.NewString(),
			Type:      sessionstate.EventApprovalRequest,
			Source:    "hitl",
			Timestamp: time.Now(),
			Payload:   map[string]any{"session_id": state.SessionID, "reason": reason, "context": ctxArgs},
		})
	}

	return nil
}

// Resume loads the suspended session and applies the human's
// decision. A reject returns (nil, nil): the session is marked FAILED
// and checkpointed, but there is no state to hand back to the caller
// for continued execution. Approve and modify return the resumed
// state ready to continue from.
func (c *Controller) Resume(sessionID string, action Action, modifiedEntities map[string]any) (*sessionstate.SessionState, error) {
	cp, err := c.store.Load(sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("hitl: cannot resume %q: %w", sessionID, err)
	}
	state := cp.State

	defer func() {
		c.mu.Lock()
		delete(c.pending, sessionID)
		c.mu.Unlock()
	}()

	if c.bus != nil {
		c.bus.Publish(sessionstate.Event{
			EventID:   uuid.NewString(),
			Type:      sessionstate.EventApprovalResponse,
			Source:    "hitl",
			Timestamp: time.Now(),
			Payload:   map[string]any{"session_id": sessionID, "action": string(action)},
		})
	}

	switch action {
	case ActionReject:
		state.Status = sessionstate.StatusFailed
		state.HITL = nil
		if err := c.store.Save(state, checkpoint.KindMilestone, checkpoint.PhaseError, "HITL: rejected by human"); err != nil {
			return nil, fmt.Errorf("hitl: failed to checkpoint rejection: %w", err)
		}
		return nil, nil

	case ActionModify:
		for k, v := range modifiedEntities {
			state.Entities[k] = v
		}
		state.Resume()
		return state, nil

	default: // ActionApprove
		state.Resume()
		return state, nil
	}
}

// AwaitApproval delivers the pending request for sessionID through
// channel, blocks on its response (or timeout), and applies whatever
// comes back through Resume. A timeout is treated as an implicit
// reject — the same disposition ExpireOverdue gives a silently
// abandoned request — so a session waiting here and the periodic
// ExpireOverdue sweep agree on what "too long" means.
func (c *Controller) AwaitApproval(sessionID string, channel ApprovalChannel, timeout time.Duration) (*sessionstate.SessionState, error) {
	c.mu.Lock()
	pending, ok := c.pending[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("hitl: no pending approval for session %q", sessionID)
	}

	channel.Request(sessionID, pending.Reason, pending.Context)
	resp := channel.Wait(timeout)

	action := resp.Action
	if action == ActionTimeout {
		action = ActionReject
	}
	return c.Resume(sessionID, action, nil)
}

// GetPending returns the pending-approval entry for a session, if any.
func (c *Controller) GetPending(sessionID string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessionID]
	return p, ok
}

// ListPending returns every currently outstanding approval request.
func (c *Controller) ListPending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	return out
}

// ExpireOverdue rejects every pending request that has waited longer
// than timeout, returning the session ids it rejected. A silent
// session is treated as a human who will never answer: rather than
// suspend forever, the request is auto-rejected so the caller can
// surface the timeout and move on.
func (c *Controller) ExpireOverdue(timeout time.Duration) []string {
	now := time.Now()

	c.mu.Lock()
	var overdue []string
	for id, p := range c.pending {
		if p.Expired(timeout, now) {
			overdue = append(overdue, id)
		}
	}
	c.mu.Unlock()

	var rejected []string
	for _, id := range overdue {
		if _, err := c.Resume(id, ActionReject, nil); err == nil {
			rejected = append(rejected, id)
		}
	}
	return rejected
}

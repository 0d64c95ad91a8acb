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

package hitl

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-labs/conclave/pkg/eventbus"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// ActionTimeout marks a Wait that elapsed without any human response —
// distinct from ActionReject, which is a deliberate human decision.
const ActionTimeout Action = "timeout"

// DefaultApprovalTimeout is how long Wait blocks before reporting
// ActionTimeout when the caller passes a non-positive timeout.
const DefaultApprovalTimeout = 300 * time.Second

// ApprovalResponse is what Wait resolves to: either a human's
// disposition or an elapsed timeout.
type ApprovalResponse struct {
	Approved    bool
	Action      Action
	Reason      string
	RespondedAt time.Time
}

func timeoutResponse() ApprovalResponse {
	return ApprovalResponse{Approved: false, Action: ActionTimeout, RespondedAt: time.Now()}
}

func approvalResponse(action Action, reason string) ApprovalResponse {
	return ApprovalResponse{
		Approved:    action == ActionApprove || action == ActionModify,
		Action:      action,
		Reason:      reason,
		RespondedAt: time.Now(),
	}
}

// ApprovalChannel delivers a pending HITL request to whatever sits on
// the other end of it — an operator's terminal, a remote dashboard —
// and blocks the caller until that end answers or Wait times out.
type ApprovalChannel interface {
	// Request announces a new approval request.
	Request(sessionID, reason string, context map[string]any)
	// Wait blocks for a response or until timeout elapses.
	Wait(timeout time.Duration) ApprovalResponse
	// Respond delivers the human's decision, unblocking Wait.
	Respond(action Action, reason string)
}

// CLIChannel is the synchronous, in-process realization: an
// event/flag pair built on a one-shot buffered channel, answered by a
// slash command in the same process that is blocked in Wait.
type CLIChannel struct {
	mu        sync.Mutex
	responses chan ApprovalResponse
	responded bool
}

// NewCLIChannel creates a CLIChannel good for exactly one
// Request/Wait/Respond cycle.
func NewCLIChannel() *CLIChannel {
	return &CLIChannel{responses: make(chan ApprovalResponse, 1)}
}

// Request is a no-op here: the prompt is whatever the caller already
// printed to the terminal (e.g. "[suspended for human review: ...]").
func (c *CLIChannel) Request(string, string, map[string]any) {}

// Respond delivers the human's decision. Only the first call has
// effect, since a CLIChannel answers exactly one request.
func (c *CLIChannel) Respond(action Action, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responded {
		return
	}
	c.responded = true
	c.responses <- approvalResponse(action, reason)
}

// Wait blocks until Respond is called or timeout elapses.
func (c *CLIChannel) Wait(timeout time.Duration) ApprovalResponse {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	select {
	case resp := <-c.responses:
		return resp
	case <-time.After(timeout):
		return timeoutResponse()
	}
}

// EventBusChannel backs the ApprovalChannel contract with the Event
// Bus: Request publishes EventApprovalRequest, and Wait consumes the
// matching EventApprovalResponse off a bounded per-request mailbox
// rather than scanning the shared bus log.
type EventBusChannel struct {
	bus       *eventbus.Bus
	sessionID string
	mailbox   chan sessionstate.Event
	subID     string
}

// NewEventBusChannel subscribes to EventApprovalResponse for
// sessionID. Callers must call Close once done waiting, to release
// the subscription.
func NewEventBusChannel(bus *eventbus.Bus, sessionID string) *EventBusChannel {
	c := &EventBusChannel{bus: bus, sessionID: sessionID, mailbox: make(chan sessionstate.Event, 1)}
	c.subID = bus.Subscribe(sessionstate.EventApprovalResponse, func(ev sessionstate.Event) {
		if sid, _ := ev.Payload["session_id"].(string); sid != sessionID {
			return
		}
		select {
		case c.mailbox <- ev:
		default:
		}
	})
	return c
}

// Close releases the bus subscription backing this channel.
func (c *EventBusChannel) Close() { c.bus.Unsubscribe(c.subID) }

// Request publishes EventApprovalRequest for sessionID.
func (c *EventBusChannel) Request(sessionID, reason string, context map[string]any) {
	c.bus.Publish(sessionstate.Event{
		EventID:   uuid.NewString(),
		Type:      sessionstate.EventApprovalRequest,
		Source:    "hitl",
		Timestamp: time.Now(),
		Payload:   map[string]any{"session_id": sessionID, "reason": reason, "context": context},
	})
}

// Respond publishes EventApprovalResponse — what a remote caller (an
// API handler, a dashboard) invokes to answer a pending request it
// observed via EventApprovalRequest.
func (c *EventBusChannel) Respond(action Action, reason string) {
	c.bus.Publish(sessionstate.Event{
		EventID:   uuid.NewString(),
		Type:      sessionstate.EventApprovalResponse,
		Source:    "operator",
		Timestamp: time.Now(),
		Payload:   map[string]any{"session_id": c.sessionID, "action": string(action), "reason": reason},
	})
}

// Wait blocks for the matching EventApprovalResponse or until timeout.
func (c *EventBusChannel) Wait(timeout time.Duration) ApprovalResponse {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	select {
	case ev := <-c.mailbox:
		action, _ := ev.Payload["action"].(string)
		reason, _ := ev.Payload["reason"].(string)
		return approvalResponse(Action(action), reason)
	case <-time.After(timeout):
		return timeoutResponse()
	}
}

package sessionstate

import "time"

// EventType is a closed enumeration of event categories produced across
// the system and recorded to the durable event stream.
type EventType string

const (
	EventUserMessage        EventType = "user_message"
	EventAgentResponse      EventType = "agent_response"
	EventThinking           EventType = "thinking"
	EventDecision           EventType = "decision"
	EventToolCall           EventType = "tool_call"
	EventToolResult         EventType = "tool_result"
	EventApprovalRequest    EventType = "approval_request"
	EventApprovalResponse   EventType = "approval_response"
	EventSystemNotification EventType = "system_notification"
	EventError              EventType = "error"
	EventMetric             EventType = "metric"
	EventSessionStart       EventType = "session_start"
	EventSessionEnd         EventType = "session_end"
)

// Event is the unit published on the event bus and recorded to the
// JSONL event stream.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Package conversation holds the per-session message sequence the
// orchestrator works over. State is append-only: the session driver owns
// it, every node reads it, and only the newest model output is added.
package conversation

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// DirectiveToolName is the tool the model calls to request a memory update.
const DirectiveToolName = "update_memory"

// ToolCall is a structured decision attached to an assistant message.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is one entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is populated on assistant messages that carry a directive.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool confirmation back to the directive it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Directive names which memory category to reconcile next. It is the
// parsed form of the update_memory tool call on the newest message.
type Directive struct {
	UpdateType string `json:"update_type"`
	ToolCallID string `json:"-"`
}

// DirectiveFrom extracts the directive from a message, if present.
// Absence of a directive signals the turn is complete. Tool calls under
// any other name are not directives and are ignored.
func DirectiveFrom(msg Message) (Directive, bool) {
	if msg.Role != RoleAssistant {
		return Directive{}, false
	}
	for _, tc := range msg.ToolCalls {
		if tc.Name != DirectiveToolName {
			continue
		}
		var d Directive
		if err := json.Unmarshal(tc.Input, &d); err != nil {
			// A directive tool call with undecodable args still is a directive;
			// the router surfaces it as unknown rather than ending the turn.
			return Directive{ToolCallID: tc.ID}, true
		}
		d.ToolCallID = tc.ID
		return d, true
	}
	return Directive{}, false
}

// State is the ordered, append-only message sequence of one session.
type State struct {
	Messages []Message `json:"messages"`
}

// Append adds the newest model output or user input.
func (s *State) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Last returns the newest message, if any.
func (s *State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// WithoutLast returns all messages except the newest one. Reconciliation
// feeds this to extraction: the trigger message is the request, not content.
// The result has no spare capacity, so appending to it cannot write into
// the state's backing array.
func (s *State) WithoutLast() []Message {
	if len(s.Messages) == 0 {
		return nil
	}
	n := len(s.Messages) - 1
	return s.Messages[:n:n]
}

// Len returns the number of messages.
func (s *State) Len() int { return len(s.Messages) }

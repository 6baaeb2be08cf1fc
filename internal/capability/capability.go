// Package capability defines the external-collaborator contracts the
// orchestrator calls: the model that produces replies and directives, and
// the extractor that reconciles conversation content into typed records.
// Failures from either are fatal for the current turn and are not retried
// here; retry policy belongs to the caller.
package capability

import (
	"context"
	"encoding/json"

	"github.com/maistro-platform/maistro/internal/conversation"
)

// ModelRequest is one model invocation.
type ModelRequest struct {
	// System is the personalization context assembled by the conversation node.
	System string
	// Messages is the full conversation so far.
	Messages []conversation.Message
	// SingleDirective constrains the model to at most one update_memory
	// tool call in its reply.
	SingleDirective bool
}

// Model produces a conversational reply, optionally carrying a directive.
type Model interface {
	Invoke(ctx context.Context, req ModelRequest) (conversation.Message, error)
}

// ExistingRecord presents one stored record to the extractor so it can
// decide between updating it and inserting a new one.
type ExistingRecord struct {
	Key    string          `json:"key"`
	Schema string          `json:"schema"`
	Value  json.RawMessage `json:"value"`
}

// Extraction is one value returned by the extractor. CorrelationID names
// the existing key this value updates; empty means insert.
type Extraction struct {
	Value         json.RawMessage
	CorrelationID string
}

// ExtractRequest asks the extractor to reconcile the conversation against
// the existing records of one namespace.
type ExtractRequest struct {
	// SchemaName selects the record schema (Profile or ToDo).
	SchemaName string
	// Instruction is the fixed reconcile-don't-append system instruction.
	Instruction string
	// Existing is every record currently in the namespace.
	Existing []ExistingRecord
	// Messages is the conversation without the trigger message.
	Messages []conversation.Message
}

// Extractor turns conversation content into inserted or updated records.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]Extraction, error)
}

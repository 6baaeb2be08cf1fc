package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the memory family a namespace belongs to.
type Kind string

const (
	KindProfile      Kind = "profile"
	KindTodo         Kind = "todo"
	KindInstructions Kind = "instructions"
)

// Valid reports whether k is one of the three known memory kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProfile, KindTodo, KindInstructions:
		return true
	}
	return false
}

// InstructionsKey is the fixed key under which the single instructions
// record of a namespace lives. Instructions are overwritten, never appended.
const InstructionsKey = "user_instructions"

// Namespace partitions stored memory by (kind, category, user).
// Namespaces are derived from session configuration only; nodes never
// invent them ad hoc.
type Namespace struct {
	Kind     Kind   `json:"kind"`
	Category string `json:"category"`
	UserID   string `json:"user_id"`
}

func NewNamespace(kind Kind, category, userID string) Namespace {
	return Namespace{Kind: kind, Category: category, UserID: userID}
}

// String renders the namespace as a stable slash-joined triple,
// used for lock keys and log fields.
func (n Namespace) String() string {
	return fmt.Sprintf("%s/%s/%s", n.Kind, n.Category, n.UserID)
}

// Record is one stored memory value. Key is unique within its namespace
// and stable across reconciliation passes that update the record.
type Record struct {
	Namespace Namespace       `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Write is a single pending upsert within a reconciliation batch.
type Write struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

package orchestrator

import "github.com/maistro-platform/maistro/internal/memory"

// DefaultCategory scopes memory when the session names no category.
const DefaultCategory = "general"

// Session is the read-only per-turn configuration. Namespaces are derived
// from it and nowhere else.
type Session struct {
	UserID   string
	Category string
	// Role describes the assistant's persona in the system prompt.
	Role string
}

func (s Session) withDefaults() Session {
	if s.Category == "" {
		s.Category = DefaultCategory
	}
	if s.Role == "" {
		s.Role = defaultRole
	}
	return s
}

// Namespace derives the memory namespace of the given kind for this session.
func (s Session) Namespace(kind memory.Kind) memory.Namespace {
	return memory.NewNamespace(kind, s.Category, s.UserID)
}

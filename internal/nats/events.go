package nats

import "time"

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "MAISTRO_EVENTS"
)

// Subject constants.
const (
	SubjectMemoryUpdated = "maistro.events.memory.updated"
	SubjectTurnCompleted = "maistro.events.turn.completed"
)

// MemoryUpdatedEvent is published after an update node commits a
// reconciliation for one namespace.
type MemoryUpdatedEvent struct {
	UserID     string    `json:"user_id"`
	Category   string    `json:"category"`
	Kind       string    `json:"kind"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TurnCompletedEvent is published once per successfully finished turn.
type TurnCompletedEvent struct {
	UserID     string    `json:"user_id"`
	Category   string    `json:"category"`
	Dispatches int       `json:"dispatches"`
	OccurredAt time.Time `json:"occurred_at"`
}

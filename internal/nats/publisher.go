package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishMemoryUpdated publishes a committed memory reconciliation.
func (p *Publisher) PublishMemoryUpdated(ctx context.Context, event MemoryUpdatedEvent) error {
	return p.publish(ctx, SubjectMemoryUpdated, event)
}

// PublishTurnCompleted publishes a finished conversation turn.
func (p *Publisher) PublishTurnCompleted(ctx context.Context, event TurnCompletedEvent) error {
	return p.publish(ctx, SubjectTurnCompleted, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

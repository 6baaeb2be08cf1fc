package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerManager handles durable consumer creation and retrieval.
type ConsumerManager struct {
	js jetstream.JetStream
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates or updates a durable consumer on the given stream.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, stream, name, filterSubject string) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", name, stream, err)
	}
	return consumer, nil
}

// AuditConsumerName is the durable consumer backing the audit log.
const AuditConsumerName = "maistro-audit"

// StartAuditLog consumes memory.updated events and writes them to the
// structured log, giving operators a trace of every committed write.
// It returns a stop function.
func StartAuditLog(ctx context.Context, cm *ConsumerManager) (func(), error) {
	consumer, err := cm.EnsureConsumer(ctx, StreamEvents, AuditConsumerName, SubjectMemoryUpdated)
	if err != nil {
		return nil, err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event MemoryUpdatedEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			slog.Warn("discarding malformed audit event", "error", err)
			_ = msg.Term()
			return
		}
		slog.Info("memory updated",
			"user_id", event.UserID,
			"category", event.Category,
			"kind", event.Kind,
			"inserted", event.Inserted,
			"updated", event.Updated,
		)
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("starting audit consumer: %w", err)
	}
	return cc.Stop, nil
}

// Package session persists conversation state between turns in Redis
// lists, one entry per message, trimmed and expired per configuration.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maistro-platform/maistro/internal/conversation"
)

// Store keeps one conversation per (category, user) pair.
type Store struct {
	client redis.Cmdable
}

func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func convKey(category, userID string) string {
	return fmt.Sprintf("conv:%s:%s", category, userID)
}

// Load returns the persisted conversation, empty when none exists.
func (s *Store) Load(ctx context.Context, category, userID string) (*conversation.State, error) {
	key := convKey(category, userID)

	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	state := &conversation.State{}
	for i, v := range vals {
		var msg conversation.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			slog.Warn("skipping malformed conversation entry",
				"error", err, "key", key, "index", i)
			continue
		}
		state.Append(msg)
	}
	return state, nil
}

// Append adds messages to the persisted conversation, trims it to maxMsgs,
// and refreshes the TTL.
func (s *Store) Append(ctx context.Context, category, userID string, msgs []conversation.Message, maxMsgs int, ttl time.Duration) error {
	if len(msgs) == 0 {
		return nil
	}
	key := convKey(category, userID)

	pipe := s.client.Pipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}
		pipe.RPush(ctx, key, string(data))
	}
	pipe.LTrim(ctx, key, int64(-maxMsgs), -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return s.dropOrphanedHead(ctx, key, maxMsgs)
}

// dropOrphanedHead pops tool confirmations left at the head of the list
// after a trim. A confirmation whose tool_use message was trimmed away
// would be rejected downstream as a tool_result without a matching call.
func (s *Store) dropOrphanedHead(ctx context.Context, key string, maxMsgs int) error {
	for i := 0; i < maxMsgs; i++ {
		head, err := s.client.LIndex(ctx, key, 0).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lindex %s: %w", key, err)
		}

		var msg conversation.Message
		if err := json.Unmarshal([]byte(head), &msg); err != nil || msg.Role == conversation.RoleTool {
			if err := s.client.LPop(ctx, key).Err(); err != nil {
				return fmt.Errorf("lpop %s: %w", key, err)
			}
			continue
		}
		return nil
	}
	return nil
}

// Clear deletes the conversation for the given pair.
func (s *Store) Clear(ctx context.Context, category, userID string) error {
	return s.client.Del(ctx, convKey(category, userID)).Err()
}

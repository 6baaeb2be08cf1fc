package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maistro-platform/maistro/internal/conversation"
)

func setupMiniredis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

func TestStore_AppendAndLoad(t *testing.T) {
	store, _ := setupMiniredis(t)
	ctx := context.Background()

	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "remind me to buy milk"},
		{Role: conversation.RoleAssistant, Content: "will do"},
	}
	require.NoError(t, store.Append(ctx, "general", "user-1", msgs, 20, time.Hour))

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, state.Len())
	assert.Equal(t, conversation.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "will do", state.Messages[1].Content)
}

func TestStore_LoadEmptyConversation(t *testing.T) {
	store, _ := setupMiniredis(t)

	state, err := store.Load(context.Background(), "general", "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Len())
}

func TestStore_LoadSkipsAndReportsMalformedEntries(t *testing.T) {
	store, mr := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "general", "user-1",
		[]conversation.Message{{Role: conversation.RoleUser, Content: "hello"}}, 20, time.Hour))
	mr.RPush(convKey("general", "user-1"), "not json")

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, state.Len())
	assert.Equal(t, "hello", state.Messages[0].Content)
	assert.Contains(t, logs.String(), "malformed conversation entry")
}

func TestStore_PreservesToolCalls(t *testing.T) {
	store, _ := setupMiniredis(t)
	ctx := context.Background()

	msgs := []conversation.Message{
		{
			Role: conversation.RoleAssistant,
			ToolCalls: []conversation.ToolCall{
				{ID: "tc-1", Name: conversation.DirectiveToolName, Input: []byte(`{"update_type":"todo"}`)},
			},
		},
		{Role: conversation.RoleTool, Content: "updated todo list", ToolCallID: "tc-1"},
	}
	require.NoError(t, store.Append(ctx, "general", "user-1", msgs, 20, time.Hour))

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, state.Len())

	d, ok := conversation.DirectiveFrom(state.Messages[0])
	require.True(t, ok)
	assert.Equal(t, "todo", d.UpdateType)
	assert.Equal(t, "tc-1", state.Messages[1].ToolCallID)
}

func TestStore_TrimsToMaxMessages(t *testing.T) {
	store, _ := setupMiniredis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := conversation.Message{Role: conversation.RoleUser, Content: fmt.Sprintf("msg-%d", i)}
		require.NoError(t, store.Append(ctx, "general", "user-1", []conversation.Message{msg}, 3, time.Hour))
	}

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, 3, state.Len())
	assert.Equal(t, "msg-2", state.Messages[0].Content)
	assert.Equal(t, "msg-4", state.Messages[2].Content)
}

func TestStore_TrimDropsOrphanedToolConfirmation(t *testing.T) {
	store, _ := setupMiniredis(t)
	ctx := context.Background()

	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "remind me to buy milk"},
		{
			Role: conversation.RoleAssistant,
			ToolCalls: []conversation.ToolCall{
				{ID: "tc-1", Name: conversation.DirectiveToolName, Input: []byte(`{"update_type":"todo"}`)},
			},
		},
		{Role: conversation.RoleTool, Content: "updated todo list", ToolCallID: "tc-1"},
		{Role: conversation.RoleAssistant, Content: "added it"},
	}
	// The trim boundary falls between the tool call and its confirmation;
	// the stranded confirmation must go too.
	require.NoError(t, store.Append(ctx, "general", "user-1", msgs, 2, time.Hour))

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, state.Len())
	assert.Equal(t, conversation.RoleAssistant, state.Messages[0].Role)
	assert.Equal(t, "added it", state.Messages[0].Content)
}

func TestStore_TTLExpiry(t *testing.T) {
	store, mr := setupMiniredis(t)
	ctx := context.Background()

	msg := conversation.Message{Role: conversation.RoleUser, Content: "hello"}
	require.NoError(t, store.Append(ctx, "general", "user-1", []conversation.Message{msg}, 20, time.Minute))

	mr.FastForward(2 * time.Minute)

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Len())
}

func TestStore_Clear(t *testing.T) {
	store, _ := setupMiniredis(t)
	ctx := context.Background()

	msg := conversation.Message{Role: conversation.RoleUser, Content: "hello"}
	require.NoError(t, store.Append(ctx, "general", "user-1", []conversation.Message{msg}, 20, time.Hour))
	require.NoError(t, store.Clear(ctx, "general", "user-1"))

	state, err := store.Load(ctx, "general", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Len())
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/nslock"
)

// scriptedModel replays a fixed sequence of replies, one per invocation.
type scriptedModel struct {
	mu      sync.Mutex
	replies []conversation.Message
	calls   int
	// lastSystem captures the system prompt of the newest invocation.
	lastSystem string
}

func (m *scriptedModel) Invoke(_ context.Context, req capability.ModelRequest) (conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSystem = req.System
	if m.calls >= len(m.replies) {
		return conversation.Message{Role: conversation.RoleAssistant, Content: "done"}, nil
	}
	reply := m.replies[m.calls]
	m.calls++
	return reply, nil
}

// scriptedExtractor returns the same extractions on every call and counts calls.
type scriptedExtractor struct {
	mu          sync.Mutex
	extractions []capability.Extraction
	err         error
	calls       int
	lastReq     capability.ExtractRequest
}

func (e *scriptedExtractor) Extract(_ context.Context, req capability.ExtractRequest) ([]capability.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastReq = req
	if e.err != nil {
		return nil, e.err
	}
	return e.extractions, nil
}

func directiveReply(updateType, callID string) conversation.Message {
	input, _ := json.Marshal(map[string]string{"update_type": updateType})
	return conversation.Message{
		Role: conversation.RoleAssistant,
		ToolCalls: []conversation.ToolCall{
			{ID: callID, Name: conversation.DirectiveToolName, Input: input},
		},
	}
}

func plainReply(content string) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, Content: content}
}

func userTurn(content string) *conversation.State {
	s := &conversation.State{}
	s.Append(conversation.Message{Role: conversation.RoleUser, Content: content})
	return s
}

func TestRouteMessage(t *testing.T) {
	tests := []struct {
		name       string
		msg        conversation.Message
		wantState  RouteState
		wantErr    bool
	}{
		{"plain reply ends turn", plainReply("hi"), StateDone, false},
		{"user message ends turn", conversation.Message{Role: conversation.RoleUser, Content: "hi"}, StateDone, false},
		{"user directive", directiveReply("user", "c1"), StateDispatchProfile, false},
		{"todo directive", directiveReply("todo", "c2"), StateDispatchTodo, false},
		{"instructions directive", directiveReply("instructions", "c3"), StateDispatchInstructions, false},
		{"unknown directive fails", directiveReply("calendar", "c4"), StateFailed, true},
		{"empty update_type fails", directiveReply("", "c5"), StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := RouteMessage(tt.msg)
			assert.Equal(t, tt.wantState, route.State)
			if tt.wantErr {
				require.Error(t, err)
				var dirErr *UnknownDirectiveError
				assert.ErrorAs(t, err, &dirErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRunTurn_NoDirectiveLeavesStoreUntouched(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{plainReply("hello there")}}
	ext := &scriptedExtractor{}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1"}
	appended, err := orch.RunTurn(context.Background(), sess, userTurn("hi"))
	require.NoError(t, err)

	require.Len(t, appended, 1)
	assert.Equal(t, "hello there", appended[0].Content)
	assert.Zero(t, ext.calls)

	for _, kind := range []memory.Kind{memory.KindProfile, memory.KindTodo, memory.KindInstructions} {
		recs, err := store.Search(context.Background(), sess.withDefaults().Namespace(kind))
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
}

func TestRunTurn_TodoDirectiveStoresRecordAndConfirms(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("todo", "call-1"),
		plainReply("Added buying milk to your list."),
	}}
	todoVal, _ := json.Marshal(map[string]any{"task": "buy milk", "status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: todoVal}}}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1"}
	appended, err := orch.RunTurn(context.Background(), sess, userTurn("remember to buy milk"))
	require.NoError(t, err)

	// directive reply, tool confirmation, final reply
	require.Len(t, appended, 3)
	assert.Equal(t, conversation.RoleTool, appended[1].Role)
	assert.Equal(t, "call-1", appended[1].ToolCallID)
	assert.Contains(t, appended[1].Content, "1 inserted")
	assert.Equal(t, "Added buying milk to your list.", appended[2].Content)

	recs, err := store.Search(context.Background(), sess.withDefaults().Namespace(memory.KindTodo))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, string(todoVal), string(recs[0].Value))
}

func TestRunTurn_BlindInsertReplayIsNotIdempotent(t *testing.T) {
	store := memory.NewMemStore()
	todoVal, _ := json.Marshal(map[string]any{"task": "water plants", "status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: todoVal}}}

	sess := Session{UserID: "u1"}
	ns := sess.withDefaults().Namespace(memory.KindTodo)

	for i := 0; i < 2; i++ {
		model := &scriptedModel{replies: []conversation.Message{
			directiveReply("todo", fmt.Sprintf("call-%d", i)),
			plainReply("ok"),
		}}
		orch := New(store, nslock.NewLocal(), model, ext)
		_, err := orch.RunTurn(context.Background(), sess, userTurn("remember to water plants"))
		require.NoError(t, err)
	}

	// Without a correlation id each replay mints a new key.
	recs, err := store.Search(context.Background(), ns)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRunTurn_CorrelatedUpdateKeepsRecordCount(t *testing.T) {
	store := memory.NewMemStore()
	sess := Session{UserID: "u1"}
	ns := sess.withDefaults().Namespace(memory.KindTodo)

	first, _ := json.Marshal(map[string]any{"task": "book flights", "status": "not started"})
	require.NoError(t, store.Put(context.Background(), ns, "todo-1", first))

	updated, _ := json.Marshal(map[string]any{"task": "book flights", "status": "done", "solutions": []string{"booked via airline site"}})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: updated, CorrelationID: "todo-1"}}}
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("todo", "call-1"),
		plainReply("marked as done"),
	}}
	orch := New(store, nslock.NewLocal(), model, ext)

	appended, err := orch.RunTurn(context.Background(), sess, userTurn("I booked the flights"))
	require.NoError(t, err)
	assert.Contains(t, appended[1].Content, "1 updated")

	recs, err := store.Search(context.Background(), ns)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, string(updated), string(recs[0].Value))

	// The extractor saw the prior record keyed for correlation.
	require.Len(t, ext.lastReq.Existing, 1)
	assert.Equal(t, "todo-1", ext.lastReq.Existing[0].Key)
}

func TestRunTurn_InstructionsOverwriteSingleRecord(t *testing.T) {
	store := memory.NewMemStore()
	sess := Session{UserID: "u1"}
	ns := sess.withDefaults().Namespace(memory.KindInstructions)

	for i, text := range []string{"always add deadlines", "always add deadlines and estimates"} {
		model := &scriptedModel{replies: []conversation.Message{
			directiveReply("instructions", fmt.Sprintf("call-%d", i)),
			plainReply(text), // instructions node reply
			plainReply("noted"),
		}}
		orch := New(store, nslock.NewLocal(), model, &scriptedExtractor{})
		appended, err := orch.RunTurn(context.Background(), sess, userTurn("update how you manage my list"))
		require.NoError(t, err)
		assert.Equal(t, "updated instructions", appended[1].Content)
	}

	recs, err := store.Search(context.Background(), ns)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, memory.InstructionsKey, recs[0].Key)
	assert.Contains(t, string(recs[0].Value), "deadlines and estimates")
}

func TestRunTurn_InstructionsUpdateKeepsDirectiveMessage(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("instructions", "call-1"),
		plainReply("always add deadlines"),
		plainReply("noted"),
	}}
	orch := New(store, nslock.NewLocal(), model, &scriptedExtractor{})

	state := userTurn("update how you manage my list")
	appended, err := orch.RunTurn(context.Background(), Session{UserID: "u1"}, state)
	require.NoError(t, err)

	// The instructions node reads the state but must not rewrite it: the
	// directive reply keeps its role and tool call, both in the state and
	// in the returned messages.
	require.Equal(t, 4, state.Len())
	assert.Equal(t, conversation.RoleAssistant, state.Messages[1].Role)
	require.Len(t, state.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call-1", state.Messages[1].ToolCalls[0].ID)

	require.Len(t, appended, 3)
	require.Len(t, appended[0].ToolCalls, 1)
	assert.Equal(t, conversation.RoleTool, appended[1].Role)
	assert.Equal(t, "call-1", appended[1].ToolCallID)
}

func TestRunTurn_ProfileDirectiveUpdatesProfile(t *testing.T) {
	store := memory.NewMemStore()
	profileVal, _ := json.Marshal(map[string]any{"name": "Ada", "location": "London"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: profileVal}}}
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("user", "call-1"),
		plainReply("Nice to meet you, Ada."),
	}}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1"}
	appended, err := orch.RunTurn(context.Background(), sess, userTurn("I'm Ada, I live in London"))
	require.NoError(t, err)
	assert.Equal(t, "updated profile", appended[1].Content)

	recs, err := store.Search(context.Background(), sess.withDefaults().Namespace(memory.KindProfile))
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestRunTurn_UnknownDirectiveFailsLoudly(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{directiveReply("calendar", "call-1")}}
	ext := &scriptedExtractor{}
	orch := New(store, nslock.NewLocal(), model, ext)

	_, err := orch.RunTurn(context.Background(), Session{UserID: "u1"}, userTurn("hi"))
	require.Error(t, err)
	var dirErr *UnknownDirectiveError
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, "calendar", dirErr.Value)
	assert.Zero(t, ext.calls)
}

func TestRunTurn_ExtractionFailureAborts(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{directiveReply("todo", "call-1")}}
	ext := &scriptedExtractor{err: errors.New("model unavailable")}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1"}
	_, err := orch.RunTurn(context.Background(), sess, userTurn("remember to buy milk"))
	require.Error(t, err)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "extraction", capErr.Capability)

	recs, err := store.Search(context.Background(), sess.withDefaults().Namespace(memory.KindTodo))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunTurn_InvalidExtractionRejected(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{directiveReply("todo", "call-1")}}
	// Task is required.
	bad, _ := json.Marshal(map[string]any{"status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: bad}}}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1"}
	_, err := orch.RunTurn(context.Background(), sess, userTurn("remember something"))
	require.Error(t, err)

	recs, err := store.Search(context.Background(), sess.withDefaults().Namespace(memory.KindTodo))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunTurn_DispatchLimit(t *testing.T) {
	store := memory.NewMemStore()
	// Every conversation reply asks for another update.
	replies := make([]conversation.Message, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, directiveReply("todo", fmt.Sprintf("call-%d", i)))
	}
	todoVal, _ := json.Marshal(map[string]any{"task": "loop", "status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: todoVal}}}
	model := &scriptedModel{replies: replies}
	orch := New(store, nslock.NewLocal(), model, ext, WithMaxDispatches(3))

	_, err := orch.RunTurn(context.Background(), Session{UserID: "u1"}, userTurn("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchLimit)
	assert.Equal(t, 3, ext.calls)
}

func TestRunTurn_SystemPromptCarriesStoredMemory(t *testing.T) {
	store := memory.NewMemStore()
	sess := Session{UserID: "u1"}

	profile, _ := json.Marshal(map[string]any{"name": "Ada"})
	require.NoError(t, store.Put(context.Background(), sess.withDefaults().Namespace(memory.KindProfile), "p1", profile))
	todo, _ := json.Marshal(map[string]any{"task": "buy milk", "status": "not started"})
	require.NoError(t, store.Put(context.Background(), sess.withDefaults().Namespace(memory.KindTodo), "t1", todo))

	model := &scriptedModel{replies: []conversation.Message{plainReply("hi Ada")}}
	orch := New(store, nslock.NewLocal(), model, &scriptedExtractor{})

	_, err := orch.RunTurn(context.Background(), sess, userTurn("hello"))
	require.NoError(t, err)
	assert.Contains(t, model.lastSystem, "Ada")
	assert.Contains(t, model.lastSystem, "buy milk")
}

func TestRunTurn_ExtractionExcludesTriggerMessage(t *testing.T) {
	store := memory.NewMemStore()
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("todo", "call-1"),
		plainReply("ok"),
	}}
	todoVal, _ := json.Marshal(map[string]any{"task": "buy milk", "status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: todoVal}}}
	orch := New(store, nslock.NewLocal(), model, ext)

	_, err := orch.RunTurn(context.Background(), Session{UserID: "u1"}, userTurn("remember to buy milk"))
	require.NoError(t, err)

	// The directive reply itself is excluded from extraction input.
	require.NotEmpty(t, ext.lastReq.Messages)
	last := ext.lastReq.Messages[len(ext.lastReq.Messages)-1]
	assert.Empty(t, last.ToolCalls)
}

func TestRunTurn_CategoriesIsolateMemory(t *testing.T) {
	store := memory.NewMemStore()
	todoVal, _ := json.Marshal(map[string]any{"task": "ship release", "status": "not started"})
	ext := &scriptedExtractor{extractions: []capability.Extraction{{Value: todoVal}}}
	model := &scriptedModel{replies: []conversation.Message{
		directiveReply("todo", "call-1"),
		plainReply("ok"),
	}}
	orch := New(store, nslock.NewLocal(), model, ext)

	sess := Session{UserID: "u1", Category: "work"}
	_, err := orch.RunTurn(context.Background(), sess, userTurn("remind me to ship the release"))
	require.NoError(t, err)

	work, err := store.Search(context.Background(), memory.NewNamespace(memory.KindTodo, "work", "u1"))
	require.NoError(t, err)
	assert.Len(t, work, 1)

	general, err := store.Search(context.Background(), memory.NewNamespace(memory.KindTodo, DefaultCategory, "u1"))
	require.NoError(t, err)
	assert.Empty(t, general)
}

func TestReconciler_ConcurrentPassesAllCommit(t *testing.T) {
	store := memory.NewMemStore()
	locks := nslock.NewLocal()
	ns := memory.NewNamespace(memory.KindTodo, "general", "u1")

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			todoVal, _ := json.Marshal(map[string]any{"task": fmt.Sprintf("task %d", i), "status": "not started"})
			rec := NewReconciler(store, locks, &scriptedExtractor{
				extractions: []capability.Extraction{{Value: todoVal}},
			}, "ToDo", func(json.RawMessage) error { return nil }, nil)

			state := userTurn("remember")
			state.Append(plainReply("trigger"))
			_, err := rec.Reconcile(context.Background(), ns, state)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	recs, err := store.Search(context.Background(), ns)
	require.NoError(t, err)
	assert.Len(t, recs, n)
}

func TestReconcileResult_Summary(t *testing.T) {
	res := ReconcileResult{Inserted: []string{"a", "b"}, Updated: []string{"c"}}
	sum := res.Summary("todo")
	assert.True(t, strings.Contains(sum, "2 inserted") && strings.Contains(sum, "1 updated"))
}

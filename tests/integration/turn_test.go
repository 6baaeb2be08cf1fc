//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
)

func TestTurn_EndToEnd(t *testing.T) {
	env := SetupTestEnv(t)
	userID := "user-" + uuid.NewString()

	todoVal, _ := json.Marshal(map[string]any{"task": "buy milk", "status": "not started"})
	model := &ScriptedModel{Replies: []conversation.Message{
		DirectiveReply("todo", "call-1"),
		PlainReply("Added buying milk to your list."),
	}}
	extractor := &ScriptedExtractor{Extractions: []capability.Extraction{{Value: todoVal}}}
	server := NewTurnServer(t, env, model, extractor)

	resp := DoRequest(t, server.URL, "POST", "/api/v1/users/"+userID+"/turns",
		map[string]string{"message": "remember to buy milk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	assert.Equal(t, "Added buying milk to your list.", data["reply"])

	// The committed record is visible through the read endpoint.
	resp = DoRequest(t, server.URL, "GET", "/api/v1/users/"+userID+"/memory/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	todos := ParseResponse(t, resp)["data"].([]any)
	require.Len(t, todos, 1)
}

func TestTurn_PlainReplyWritesNothing(t *testing.T) {
	env := SetupTestEnv(t)
	userID := "user-" + uuid.NewString()

	model := &ScriptedModel{Replies: []conversation.Message{PlainReply("hello!")}}
	server := NewTurnServer(t, env, model, &ScriptedExtractor{})

	resp := DoRequest(t, server.URL, "POST", "/api/v1/users/"+userID+"/turns",
		map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, server.URL, "GET", "/api/v1/users/"+userID+"/memory/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	todos := ParseResponse(t, resp)["data"].([]any)
	assert.Empty(t, todos)
}

func TestTurn_SessionAccumulatesAcrossRequests(t *testing.T) {
	env := SetupTestEnv(t)
	userID := "user-" + uuid.NewString()

	model := &ScriptedModel{Replies: []conversation.Message{
		PlainReply("first"),
		PlainReply("second"),
	}}
	server := NewTurnServer(t, env, model, &ScriptedExtractor{})

	for _, msg := range []string{"one", "two"} {
		resp := DoRequest(t, server.URL, "POST", "/api/v1/users/"+userID+"/turns",
			map[string]string{"message": msg})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := DoRequest(t, server.URL, "DELETE", "/api/v1/users/"+userID+"/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	env := SetupTestEnv(t)
	server := NewTurnServer(t, env, &ScriptedModel{}, &ScriptedExtractor{})

	resp := DoRequest(t, server.URL, "GET", "/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, server.URL, "GET", "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

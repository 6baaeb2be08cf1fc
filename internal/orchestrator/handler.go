package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maistro-platform/maistro/internal/api"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/session"
)

// TurnRequest is the body of POST /api/v1/users/{userID}/turns.
type TurnRequest struct {
	Message  string `json:"message" validate:"required,max=8192"`
	Category string `json:"category" validate:"omitempty,max=128"`
}

// TurnResponse carries the assistant reply and the messages the turn
// appended, tool confirmations included.
type TurnResponse struct {
	Reply    string                 `json:"reply"`
	Messages []conversation.Message `json:"messages"`
}

// Handler serves the conversation turn endpoint.
type Handler struct {
	orch        *Orchestrator
	sessions    *session.Store
	validate    *validator.Validate
	maxMessages int
	sessionTTL  time.Duration
}

func NewHandler(orch *Orchestrator, sessions *session.Store, maxMessages int, sessionTTL time.Duration) *Handler {
	return &Handler{
		orch:        orch,
		sessions:    sessions,
		validate:    validator.New(),
		maxMessages: maxMessages,
		sessionTTL:  sessionTTL,
	}
}

// Turn loads the persisted conversation, runs one orchestration turn, and
// persists the appended messages. Nothing is persisted when the turn fails;
// memory writes committed by earlier dispatches of the failed turn remain.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	sess := Session{UserID: userID, Category: req.Category}.withDefaults()

	state, err := h.sessions.Load(r.Context(), sess.Category, userID)
	if err != nil {
		slog.Error("loading conversation", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	userMsg := conversation.Message{Role: conversation.RoleUser, Content: req.Message}
	state.Append(userMsg)

	appended, err := h.orch.RunTurn(r.Context(), sess, state)
	if err != nil {
		slog.Error("turn failed", "error", err, "user_id", userID, "category", sess.Category)
		api.HandleError(w, turnError(err))
		return
	}

	toPersist := append([]conversation.Message{userMsg}, appended...)
	if err := h.sessions.Append(r.Context(), sess.Category, userID, toPersist, h.maxMessages, h.sessionTTL); err != nil {
		slog.Error("persisting conversation", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	reply := ""
	if last, ok := state.Last(); ok {
		reply = last.Content
	}
	api.JSON(w, http.StatusOK, TurnResponse{Reply: reply, Messages: appended})
}

// ClearSession deletes the persisted conversation, leaving stored memory intact.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		category = DefaultCategory
	}

	if err := h.sessions.Clear(r.Context(), category, userID); err != nil {
		slog.Error("clearing conversation", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSONMessage(w, http.StatusOK, "session cleared")
}

// turnError maps orchestration failures onto HTTP errors. Upstream
// capability failures and contract violations are gateway errors; everything
// else is internal.
func turnError(err error) *api.AppError {
	var capErr *CapabilityError
	var dirErr *UnknownDirectiveError
	switch {
	case errors.As(err, &capErr), errors.As(err, &dirErr):
		return api.ErrUpstream
	case errors.Is(err, ErrDispatchLimit):
		return api.ErrUpstream
	default:
		return api.ErrInternalServer
	}
}

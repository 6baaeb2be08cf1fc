package memory

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maistro-platform/maistro/internal/api"
)

const defaultCategory = "general"

// Handler serves read-only memory inspection endpoints.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func requestNamespace(r *http.Request, kind Kind) (Namespace, bool) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		return Namespace{}, false
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		category = defaultCategory
	}
	return NewNamespace(kind, category, userID), true
}

// MemoryView is the wire shape of one stored record.
type MemoryView struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

func view(rec Record) MemoryView {
	v := MemoryView{Key: rec.Key, Value: rec.Value}
	if !rec.UpdatedAt.IsZero() {
		v.UpdatedAt = rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

// GetProfile returns the user's profile record, or null when none exists.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ns, ok := requestNamespace(r, KindProfile)
	if !ok {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	recs, err := h.store.Search(r.Context(), ns)
	if err != nil {
		slog.Error("reading profile", "error", err, "namespace", ns.String())
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if len(recs) == 0 {
		api.JSON(w, http.StatusOK, nil)
		return
	}
	api.JSON(w, http.StatusOK, view(recs[0]))
}

// ListTodos returns every todo record in the namespace, in insertion order.
func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	ns, ok := requestNamespace(r, KindTodo)
	if !ok {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	recs, err := h.store.Search(r.Context(), ns)
	if err != nil {
		slog.Error("reading todos", "error", err, "namespace", ns.String())
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	views := make([]MemoryView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, view(rec))
	}
	api.JSON(w, http.StatusOK, views)
}

// GetInstructions returns the instructions record, or null when none exists.
func (h *Handler) GetInstructions(w http.ResponseWriter, r *http.Request) {
	ns, ok := requestNamespace(r, KindInstructions)
	if !ok {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), ns, InstructionsKey)
	if err != nil {
		slog.Error("reading instructions", "error", err, "namespace", ns.String())
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if rec == nil {
		api.JSON(w, http.StatusOK, nil)
		return
	}
	api.JSON(w, http.StatusOK, view(*rec))
}

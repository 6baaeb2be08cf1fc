// Package orchestrator runs the memory turn loop: a conversation node
// produces the user-facing reply, a router inspects it for an update_memory
// directive, and the matching update node reconciles one memory namespace
// before control returns to the conversation node.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/metrics"
	"github.com/maistro-platform/maistro/internal/nats"
	"github.com/maistro-platform/maistro/internal/nslock"
	"github.com/maistro-platform/maistro/internal/schema"
)

// DefaultMaxDispatches bounds how many update nodes one turn may run.
const DefaultMaxDispatches = 8

// Orchestrator wires the conversation node, router, and update nodes over
// one store. It is safe for concurrent use; per-namespace exclusion is the
// locker's job.
type Orchestrator struct {
	store         memory.Store
	model         capability.Model
	profiles      *Reconciler
	todos         *Reconciler
	instructions  *InstructionsUpdater
	publisher     *nats.Publisher
	maxDispatches int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxDispatches overrides the per-turn dispatch bound.
func WithMaxDispatches(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxDispatches = n
		}
	}
}

// WithPublisher attaches an event publisher. Events are best-effort; a
// nil publisher disables them.
func WithPublisher(pub *nats.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = pub }
}

func New(store memory.Store, locks nslock.Locker, model capability.Model, extractor capability.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		model: model,
		profiles: NewReconciler(store, locks, extractor,
			schema.ProfileSchema, schema.ValidateProfile, nil),
		todos: NewReconciler(store, locks, extractor,
			schema.ToDoSchema, schema.ValidateToDo, schema.NormalizeToDo),
		instructions:  NewInstructionsUpdater(store, locks, model),
		maxDispatches: DefaultMaxDispatches,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn drives one turn: the state must end with the triggering user
// message. It returns the messages appended during the turn, ending with
// the assistant reply that carries no directive. On error the store may
// already hold committed reconciliations from earlier dispatches, but the
// returned messages are discarded by callers.
func (o *Orchestrator) RunTurn(ctx context.Context, sess Session, state *conversation.State) ([]conversation.Message, error) {
	sess = sess.withDefaults()
	base := state.Len()
	dispatches := 0

	for {
		reply, err := o.converse(ctx, sess, state)
		if err != nil {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		state.Append(reply)

		route, err := RouteMessage(reply)
		if err != nil {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("routing turn for user %s: %w", sess.UserID, err)
		}
		if route.State == StateDone {
			metrics.TurnsTotal.WithLabelValues("ok").Inc()
			o.publishTurnCompleted(ctx, sess, dispatches)
			return state.Messages[base:], nil
		}

		dispatches++
		if dispatches > o.maxDispatches {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("user %s exceeded %d dispatches in one turn: %w",
				sess.UserID, o.maxDispatches, ErrDispatchLimit)
		}

		confirmation, err := o.dispatch(ctx, sess, route, state)
		if err != nil {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		state.Append(confirmation)
	}
}

// dispatch runs the update node the router selected and returns the tool
// confirmation the conversation node sees on its next invocation.
func (o *Orchestrator) dispatch(ctx context.Context, sess Session, route Route, state *conversation.State) (conversation.Message, error) {
	var (
		kind    memory.Kind
		content string
	)
	switch route.State {
	case StateDispatchProfile:
		kind = memory.KindProfile
		res, err := o.profiles.Reconcile(ctx, sess.Namespace(kind), state)
		if err != nil {
			return conversation.Message{}, err
		}
		content = "updated profile"
		o.publishMemoryUpdated(ctx, sess, kind, res)
	case StateDispatchTodo:
		kind = memory.KindTodo
		res, err := o.todos.Reconcile(ctx, sess.Namespace(kind), state)
		if err != nil {
			return conversation.Message{}, err
		}
		content = res.Summary("todo")
		o.publishMemoryUpdated(ctx, sess, kind, res)
	case StateDispatchInstructions:
		kind = memory.KindInstructions
		if err := o.instructions.Update(ctx, sess.Namespace(kind), state); err != nil {
			return conversation.Message{}, err
		}
		content = "updated instructions"
		o.publishMemoryUpdated(ctx, sess, kind, ReconcileResult{Updated: []string{memory.InstructionsKey}})
	default:
		return conversation.Message{}, fmt.Errorf("dispatching route %s: unreachable", route.State)
	}

	metrics.DispatchesTotal.WithLabelValues(string(kind)).Inc()
	return conversation.Message{
		Role:       conversation.RoleTool,
		Content:    content,
		ToolCallID: route.ToolCallID,
	}, nil
}

// converse assembles the personalization context from all three memory
// namespaces and asks the model for the next reply.
func (o *Orchestrator) converse(ctx context.Context, sess Session, state *conversation.State) (conversation.Message, error) {
	profile, err := o.renderProfile(ctx, sess)
	if err != nil {
		return conversation.Message{}, err
	}
	todos, err := o.renderTodos(ctx, sess)
	if err != nil {
		return conversation.Message{}, err
	}
	instr, err := o.renderInstructions(ctx, sess)
	if err != nil {
		return conversation.Message{}, err
	}

	reply, err := o.model.Invoke(ctx, capability.ModelRequest{
		System:          systemPrompt(sess.Role, profile, todos, instr),
		Messages:        state.Messages,
		SingleDirective: true,
	})
	if err != nil {
		return conversation.Message{}, &CapabilityError{Capability: "model", Err: err}
	}
	return reply, nil
}

func (o *Orchestrator) renderProfile(ctx context.Context, sess Session) (string, error) {
	recs, err := o.store.Search(ctx, sess.Namespace(memory.KindProfile))
	if err != nil {
		return "", fmt.Errorf("reading profile for user %s: %w", sess.UserID, err)
	}
	if len(recs) == 0 {
		return "", nil
	}
	return string(recs[0].Value), nil
}

func (o *Orchestrator) renderTodos(ctx context.Context, sess Session) (string, error) {
	recs, err := o.store.Search(ctx, sess.Namespace(memory.KindTodo))
	if err != nil {
		return "", fmt.Errorf("reading todos for user %s: %w", sess.UserID, err)
	}
	lines := make([]string, 0, len(recs))
	for _, rec := range recs {
		lines = append(lines, string(rec.Value))
	}
	return strings.Join(lines, "\n"), nil
}

func (o *Orchestrator) renderInstructions(ctx context.Context, sess Session) (string, error) {
	rec, err := o.store.Get(ctx, sess.Namespace(memory.KindInstructions), memory.InstructionsKey)
	if err != nil {
		return "", fmt.Errorf("reading instructions for user %s: %w", sess.UserID, err)
	}
	if rec == nil {
		return "", nil
	}
	return string(rec.Value), nil
}

func (o *Orchestrator) publishMemoryUpdated(ctx context.Context, sess Session, kind memory.Kind, res ReconcileResult) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishMemoryUpdated(ctx, nats.MemoryUpdatedEvent{
		UserID:     sess.UserID,
		Category:   sess.Category,
		Kind:       string(kind),
		Inserted:   len(res.Inserted),
		Updated:    len(res.Updated),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to publish memory.updated event", "error", err, "user_id", sess.UserID)
	}
}

func (o *Orchestrator) publishTurnCompleted(ctx context.Context, sess Session, dispatches int) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishTurnCompleted(ctx, nats.TurnCompletedEvent{
		UserID:     sess.UserID,
		Category:   sess.Category,
		Dispatches: dispatches,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to publish turn.completed event", "error", err, "user_id", sess.UserID)
	}
}

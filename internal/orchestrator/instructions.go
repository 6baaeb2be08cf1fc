package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/metrics"
	"github.com/maistro-platform/maistro/internal/nslock"
	"github.com/maistro-platform/maistro/internal/schema"
)

// InstructionsUpdater rewrites the single free-form instructions record.
// Unlike the reconcilers it asks the model directly for replacement text
// and always overwrites the whole record.
type InstructionsUpdater struct {
	store memory.Store
	locks nslock.Locker
	model capability.Model
}

func NewInstructionsUpdater(store memory.Store, locks nslock.Locker, model capability.Model) *InstructionsUpdater {
	return &InstructionsUpdater{store: store, locks: locks, model: model}
}

// Update reads the current instructions, asks the model to rewrite them in
// light of the conversation, and stores the result under the fixed key.
func (u *InstructionsUpdater) Update(ctx context.Context, ns memory.Namespace, state *conversation.State) error {
	release, err := u.locks.Acquire(ctx, ns)
	if err != nil {
		return fmt.Errorf("acquiring namespace lease %s: %w", ns, err)
	}
	defer release()

	current := ""
	rec, err := u.store.Get(ctx, ns, memory.InstructionsKey)
	if err != nil {
		return fmt.Errorf("reading instructions %s: %w", ns, err)
	}
	if rec != nil {
		var inst schema.Instructions
		if err := json.Unmarshal(rec.Value, &inst); err != nil {
			return fmt.Errorf("decoding stored instructions: %w", err)
		}
		current = inst.Memory
	}

	msgs := append(state.WithoutLast(), conversation.Message{
		Role:    conversation.RoleUser,
		Content: instructionsNudge,
	})

	reply, err := u.model.Invoke(ctx, capability.ModelRequest{
		System:   instructionsPrompt(current),
		Messages: msgs,
	})
	if err != nil {
		return &CapabilityError{Capability: "model", Err: err}
	}

	value, err := json.Marshal(schema.Instructions{Memory: reply.Content})
	if err != nil {
		return fmt.Errorf("encoding instructions: %w", err)
	}
	if err := u.store.Put(ctx, ns, memory.InstructionsKey, value); err != nil {
		return fmt.Errorf("storing instructions %s: %w", ns, err)
	}

	metrics.RecordsWrittenTotal.WithLabelValues(string(memory.KindInstructions), "update").Inc()
	return nil
}

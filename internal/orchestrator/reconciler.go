package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/metrics"
	"github.com/maistro-platform/maistro/internal/nslock"
)

// Reconciler runs the shared read-extract-merge-write procedure for one
// record schema. Both the profile and todo update nodes are thin wrappers
// around it. The whole pass holds the namespace lease: concurrent passes
// against one namespace would race between reading the existing set and
// writing their insert-vs-update decisions.
type Reconciler struct {
	store      memory.Store
	locks      nslock.Locker
	extractor  capability.Extractor
	schemaName string
	validate   func(json.RawMessage) error
	// normalize optionally rewrites a value before validation, e.g. to
	// fill in the default todo status.
	normalize func(json.RawMessage) (json.RawMessage, error)
}

func NewReconciler(
	store memory.Store,
	locks nslock.Locker,
	extractor capability.Extractor,
	schemaName string,
	validate func(json.RawMessage) error,
	normalize func(json.RawMessage) (json.RawMessage, error),
) *Reconciler {
	return &Reconciler{
		store:      store,
		locks:      locks,
		extractor:  extractor,
		schemaName: schemaName,
		validate:   validate,
		normalize:  normalize,
	}
}

// ReconcileResult reports what one pass wrote.
type ReconcileResult struct {
	Inserted []string
	Updated  []string
}

// Summary renders a short confirmation for the tool response.
func (r ReconcileResult) Summary(schemaName string) string {
	return fmt.Sprintf("updated %s memory: %d inserted, %d updated",
		schemaName, len(r.Inserted), len(r.Updated))
}

// Reconcile reads every record in the namespace, asks the extractor to
// reconcile them against the conversation (without its trigger message),
// and commits the returned values as one atomic batch. A value carrying a
// correlation id keeps that key; anything else gets a fresh one.
func (r *Reconciler) Reconcile(ctx context.Context, ns memory.Namespace, state *conversation.State) (ReconcileResult, error) {
	start := time.Now()

	release, err := r.locks.Acquire(ctx, ns)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("acquiring namespace lease %s: %w", ns, err)
	}
	defer release()

	existing, err := r.store.Search(ctx, ns)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reading namespace %s: %w", ns, err)
	}

	existingRecords := make([]capability.ExistingRecord, 0, len(existing))
	existingKeys := make(map[string]bool, len(existing))
	for _, rec := range existing {
		existingRecords = append(existingRecords, capability.ExistingRecord{
			Key:    rec.Key,
			Schema: r.schemaName,
			Value:  rec.Value,
		})
		existingKeys[rec.Key] = true
	}

	extractions, err := r.extractor.Extract(ctx, capability.ExtractRequest{
		SchemaName:  r.schemaName,
		Instruction: reconcileInstruction(time.Now()),
		Existing:    existingRecords,
		Messages:    state.WithoutLast(),
	})
	if err != nil {
		return ReconcileResult{}, &CapabilityError{Capability: "extraction", Err: err}
	}

	var result ReconcileResult
	writes := make([]memory.Write, 0, len(extractions))
	for _, ext := range extractions {
		value := ext.Value
		if r.normalize != nil {
			value, err = r.normalize(value)
			if err != nil {
				return ReconcileResult{}, fmt.Errorf("normalizing %s value: %w", r.schemaName, err)
			}
		}
		if err := r.validate(value); err != nil {
			return ReconcileResult{}, fmt.Errorf("rejecting %s write: %w", r.schemaName, err)
		}

		key := ext.CorrelationID
		if key == "" {
			key = uuid.New().String()
		}
		if existingKeys[key] {
			result.Updated = append(result.Updated, key)
		} else {
			result.Inserted = append(result.Inserted, key)
		}
		writes = append(writes, memory.Write{Key: key, Value: value})
	}

	// All writes of a pass commit together or not at all.
	if err := r.store.PutBatch(ctx, ns, writes); err != nil {
		return ReconcileResult{}, fmt.Errorf("committing reconciliation for %s: %w", ns, err)
	}

	metrics.ReconcileDuration.WithLabelValues(string(ns.Kind)).Observe(time.Since(start).Seconds())
	metrics.RecordsWrittenTotal.WithLabelValues(string(ns.Kind), "insert").Add(float64(len(result.Inserted)))
	metrics.RecordsWrittenTotal.WithLabelValues(string(ns.Kind), "update").Add(float64(len(result.Updated)))

	slog.Debug("reconciliation committed",
		"namespace", ns.String(),
		"inserted", len(result.Inserted),
		"updated", len(result.Updated),
	)
	return result, nil
}

package memory

import (
	"context"
	"encoding/json"
)

// Store is the namespaced key-value contract every node reads and writes
// through. Get returns (nil, nil) when the key is absent; missing memory
// is an empty value, not an error. Put is an upsert by opaque key.
// PutBatch applies a reconciliation batch atomically: either every write
// becomes durable or none do.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) (*Record, error)
	Search(ctx context.Context, ns Namespace) ([]Record, error)
	Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error
	PutBatch(ctx context.Context, ns Namespace, writes []Write) error
}

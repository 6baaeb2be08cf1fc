package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemStore is an in-process Store backed by maps. It keeps insertion
// order per namespace so Search iteration is stable, and applies PutBatch
// under a single lock so a batch is never observed half-applied. Used by
// unit tests and embedded deployments without Postgres.
type MemStore struct {
	mu      sync.RWMutex
	records map[Namespace]map[string]Record
	order   map[Namespace][]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[Namespace]map[string]Record),
		order:   make(map[Namespace][]string),
	}
}

func (s *MemStore) Get(ctx context.Context, ns Namespace, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ns][key]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemStore) Search(ctx context.Context, ns Namespace) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.order[ns]
	if len(keys) == 0 {
		return nil, nil
	}
	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, cloneRecord(s.records[ns][key]))
	}
	return records, nil
}

func (s *MemStore) Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(ns, key, value)
	return nil
}

func (s *MemStore) PutBatch(ctx context.Context, ns Namespace, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		s.put(ns, w.Key, w.Value)
	}
	return nil
}

// put requires s.mu to be held for writing.
func (s *MemStore) put(ns Namespace, key string, value json.RawMessage) {
	now := time.Now()

	if s.records[ns] == nil {
		s.records[ns] = make(map[string]Record)
	}
	existing, ok := s.records[ns][key]
	rec := Record{
		Namespace: ns,
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.order[ns] = append(s.order[ns], key)
	}
	s.records[ns][key] = rec
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Value = append(json.RawMessage(nil), rec.Value...)
	return out
}

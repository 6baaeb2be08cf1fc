package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the memories table using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres-backed namespaced store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, ns Namespace, key string) (*Record, error) {
	rec := Record{Namespace: ns, Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT value, created_at, updated_at
		 FROM memories
		 WHERE kind = $1 AND category = $2 AND user_id = $3 AND key = $4`,
		string(ns.Kind), ns.Category, ns.UserID, key,
	).Scan(&rec.Value, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting memory %s/%s: %w", ns, key, err)
	}
	return &rec, nil
}

// Search lists every record in the namespace. Order is by insertion time
// with the key as a tiebreaker, so iteration is stable across calls.
func (s *PostgresStore) Search(ctx context.Context, ns Namespace) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, created_at, updated_at
		 FROM memories
		 WHERE kind = $1 AND category = $2 AND user_id = $3
		 ORDER BY created_at, key`,
		string(ns.Kind), ns.Category, ns.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("searching namespace %s: %w", ns, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec := Record{Namespace: ns}
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx, upsertSQL, string(ns.Kind), ns.Category, ns.UserID, key, value)
	if err != nil {
		return fmt.Errorf("putting memory %s/%s: %w", ns, key, err)
	}
	return nil
}

// PutBatch upserts all writes inside one transaction. A reconciliation
// batch is either fully committed or rolled back; callers never observe
// a partially applied batch.
func (s *PostgresStore) PutBatch(ctx context.Context, ns Namespace, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning batch for %s: %w", ns, err)
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		if _, err := tx.Exec(ctx, upsertSQL, string(ns.Kind), ns.Category, ns.UserID, w.Key, w.Value); err != nil {
			return fmt.Errorf("putting memory %s/%s in batch: %w", ns, w.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch for %s: %w", ns, err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO memories (kind, category, user_id, key, value)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (kind, category, user_id, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

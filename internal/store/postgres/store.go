package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sagaflow/internal/instance"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

// Schema creates the saga instance table. Status and version are stored as
// columns so recovery scans and compare-and-swap do not parse the document.
const Schema = `
CREATE TABLE IF NOT EXISTS saga_instances (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS saga_instances_status_idx ON saga_instances (status);
`

// Store persists saga instances in PostgreSQL with optimistic versioning.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the schema. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, in *instance.SagaInstance) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO saga_instances (id, status, version, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		in.ID, string(in.Status), in.Version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, in *instance.SagaInstance) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE saga_instances
		 SET status = $3, version = $4, data = $5, updated_at = now()
		 WHERE id = $1 AND version = $2`,
		in.ID, expectedVersion, string(in.Status), in.Version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM saga_instances WHERE id = $1)`, in.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrVersionConflict
}

func (s *Store) Load(ctx context.Context, id string) (*instance.SagaInstance, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM saga_instances WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	var in instance.SagaInstance
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &in, nil
}

func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM saga_instances WHERE status = ANY($1)`,
		[]string{string(state.Created), string(state.Running), string(state.Compensating)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return ids, nil
}

var _ store.Store = (*Store)(nil)

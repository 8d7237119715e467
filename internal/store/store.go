package store

import (
	"context"

	"sagaflow/internal/instance"
)

// Store is the durable record of saga instance progress. Every write is
// instance-scoped and versioned; CompareAndSwap rejects writes not based on
// the latest stored version, so two recovered workers can never both drive
// the same instance.
type Store interface {
	// Create persists a new instance. Returns ErrAlreadyExists if the id
	// is taken.
	Create(ctx context.Context, in *instance.SagaInstance) error

	// CompareAndSwap stores in (whose Version must already be bumped past
	// expectedVersion) only if the stored version equals expectedVersion.
	// Returns ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, expectedVersion int64, in *instance.SagaInstance) error

	// Load returns a copy of the instance, or ErrNotFound.
	Load(ctx context.Context, id string) (*instance.SagaInstance, error)

	// ListActive returns ids of instances left in a non-terminal status,
	// used for crash recovery at startup.
	ListActive(ctx context.Context) ([]string, error)
}

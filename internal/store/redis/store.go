package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sagaflow/internal/instance"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

const (
	instanceKeyPrefix = "saga:instance:"
	activeSetKey      = "saga:active"
)

func instanceKey(id string) string {
	return instanceKeyPrefix + id
}

// Store persists saga instances as JSON values in Redis. Compare-and-swap
// runs under WATCH so a concurrent writer invalidates the transaction.
type Store struct {
	client *redis.Client
}

func New(opts *redis.Options) *Store {
	return &Store{client: redis.NewClient(opts)}
}

func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Create(ctx context.Context, in *instance.SagaInstance) error {
	key := instanceKey(in.ID)
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return store.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, activeSetKey, in.ID)
			return nil
		})
		return err
	}, key)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, redis.TxFailedErr) {
		return store.ErrAlreadyExists
	}
	return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, in *instance.SagaInstance) error {
	key := instanceKey(in.ID)
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur instance.SagaInstance
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("unmarshal instance: %w", err)
		}
		if cur.Version != expectedVersion {
			return store.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if state.IsActive(in.Status) {
				pipe.SAdd(ctx, activeSetKey, in.ID)
			} else {
				pipe.SRem(ctx, activeSetKey, in.ID)
			}
			return nil
		})
		return err
	}, key)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrVersionConflict) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrVersionConflict
	}
	return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
}

func (s *Store) Load(ctx context.Context, id string) (*instance.SagaInstance, error) {
	raw, err := s.client.Get(ctx, instanceKey(id)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	var in instance.SagaInstance
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &in, nil
}

func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return ids, nil
}

var _ store.Store = (*Store)(nil)

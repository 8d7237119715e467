package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sagaflow/internal/instance"
	"sagaflow/internal/saga"
	"sagaflow/internal/state"
	storeerr "sagaflow/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	s := New(&redis.Options{Addr: mr.Addr(), DialTimeout: 500 * time.Millisecond})
	if err := s.client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	return s, mr
}

func newInstance(t *testing.T) *instance.SagaInstance {
	t.Helper()
	def := saga.Definition{
		Name:  "create-order",
		Steps: []saga.Step{{Name: "reserve", Action: "inventory.reserve", Policy: saga.DefaultPolicy()}},
	}
	return instance.New(def, nil, time.Unix(100, 0).UTC())
}

func TestStore_CreateAndLoad(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	in := newInstance(t)
	if err := s.Create(context.Background(), in); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Load(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != in.ID || got.Version != 1 || got.Status != state.Created {
		t.Fatalf("loaded = %+v", got)
	}

	ids, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != in.ID {
		t.Fatalf("active ids = %v", ids)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	in := newInstance(t)
	if err := s.Create(context.Background(), in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(context.Background(), in); !errors.Is(err, storeerr.ErrAlreadyExists) {
		t.Fatalf("err = %v", err)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	in := newInstance(t)
	if err := s.Create(context.Background(), in); err != nil {
		t.Fatalf("create: %v", err)
	}

	in.Status = state.Running
	in.Version = 2
	if err := s.CompareAndSwap(context.Background(), 1, in); err != nil {
		t.Fatalf("cas: %v", err)
	}

	stale := in.Clone()
	stale.Version = 2
	if err := s.CompareAndSwap(context.Background(), 1, stale); !errors.Is(err, storeerr.ErrVersionConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestStore_CompareAndSwapMissing(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	in := newInstance(t)
	in.Version = 2
	if err := s.CompareAndSwap(context.Background(), 1, in); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStore_TerminalStatusLeavesActiveSet(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	in := newInstance(t)
	if err := s.Create(context.Background(), in); err != nil {
		t.Fatalf("create: %v", err)
	}

	in.Status = state.Completed
	in.Version = 2
	if err := s.CompareAndSwap(context.Background(), 1, in); err != nil {
		t.Fatalf("cas: %v", err)
	}

	ids, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("active ids = %v", ids)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()
	defer s.Close()

	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStore_Unavailable(t *testing.T) {
	s, mr := newTestStore(t)
	defer s.Close()
	mr.Close()

	if _, err := s.Load(context.Background(), "any"); !errors.Is(err, storeerr.ErrStoreUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

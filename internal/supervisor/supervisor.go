package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"sagaflow/internal/engine"
	"sagaflow/internal/instance"
	"sagaflow/internal/metrics"
	"sagaflow/internal/saga"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

// ErrUnknownDefinition is returned by Submit for unregistered saga names.
var ErrUnknownDefinition = errors.New("unknown saga definition")

type Config struct {
	PoolSize int `yaml:"pool_size"`
}

func DefaultConfig() Config {
	return Config{PoolSize: 4}
}

func (c Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be >= 1")
	}
	return nil
}

// Supervisor owns the pool of running saga instances. Each instance is
// driven by exactly one worker goroutine; the pool caps how many run at
// once so downstream services are not flooded.
type Supervisor struct {
	registry *saga.Registry
	store    store.Store
	engine   *engine.Engine
	sem      chan struct{}
	now      func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(registry *saga.Registry, st store.Store, eng *engine.Engine, cfg Config) (*Supervisor, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Supervisor{
		registry: registry,
		store:    st,
		engine:   eng,
		sem:      make(chan struct{}, cfg.PoolSize),
		now:      time.Now,
		cancels:  make(map[string]context.CancelFunc),
		baseCtx:  baseCtx,
		stop:     stop,
	}, nil
}

// Submit persists a new instance and schedules a worker for it. The worker
// starts as soon as a pool slot frees up; submission never blocks on the
// pool.
func (s *Supervisor) Submit(ctx context.Context, definitionName string, input json.RawMessage) (string, error) {
	def, ok := s.registry.Lookup(definitionName)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDefinition, definitionName)
	}
	in := instance.New(def, input, s.now())
	if err := s.store.Create(ctx, in); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	metrics.IncSubmitted(def.Name)
	s.startWorker(def, in.ID)
	return in.ID, nil
}

// Status returns a consistent snapshot of the instance, including its full
// step trail.
func (s *Supervisor) Status(ctx context.Context, id string) (*instance.SagaInstance, error) {
	return s.store.Load(ctx, id)
}

// Cancel is best-effort. An instance that never started a step is marked
// cancelled; one with a step in flight gets its context cancelled, after
// which the engine compensates whatever had completed.
func (s *Supervisor) Cancel(ctx context.Context, id string) error {
	in, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if state.IsTerminal(in.Status) {
		return nil
	}

	s.mu.Lock()
	cancel, owned := s.cancels[id]
	s.mu.Unlock()
	if owned {
		cancel()
		return nil
	}

	// No live worker: the instance is either queued from a previous life
	// or waiting for recovery. Cancelling a never-started one is a plain
	// status write.
	if !in.Started() {
		if err := in.SetStatus(state.Cancelled); err != nil {
			return err
		}
		in.Version++
		in.UpdatedAt = s.now()
		return s.store.CompareAndSwap(ctx, in.Version-1, in)
	}
	return nil
}

// Recover scans the store for instances left active by a previous process
// and schedules workers to resume them. Idempotency keys are derived from
// persisted state, so re-driving a step is safe.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	ids, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}
	resumed := 0
	for _, id := range ids {
		in, err := s.store.Load(ctx, id)
		if err != nil {
			log.Printf("recovery: load %s failed: %v", id, err)
			continue
		}
		def, ok := s.registry.Lookup(in.DefinitionName)
		if !ok {
			log.Printf("recovery: instance %s references unknown definition %q; skipping", id, in.DefinitionName)
			continue
		}
		s.startWorker(def, id)
		resumed++
	}
	if resumed > 0 {
		log.Printf("recovery: resumed %d instance(s)", resumed)
	}
	return resumed, nil
}

// Wait blocks until every scheduled worker has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Close cancels all workers and waits for them to stop.
func (s *Supervisor) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Supervisor) startWorker(def saga.Definition, id string) {
	workerCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-workerCtx.Done():
			// Cancelled while queued; the engine turns this into either
			// cancelled or a compensation run without holding a slot.
		}

		s.runInstance(workerCtx, def, id)
	}()
}

func (s *Supervisor) runInstance(ctx context.Context, def saga.Definition, id string) {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	loadCtx := context.WithoutCancel(ctx)
	in, err := s.store.Load(loadCtx, id)
	if err != nil {
		log.Printf("saga %s: load failed: %v", id, err)
		return
	}
	if state.IsTerminal(in.Status) {
		return
	}

	status, err := s.engine.Run(ctx, def, in)
	if err != nil {
		log.Printf("saga %s: worker stopped: %v", id, err)
		return
	}
	metrics.IncFinished(def.Name, string(status))
	log.Printf("saga %s: finished with status %s", id, status)
}

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagaflow/internal/compensate"
	"sagaflow/internal/engine"
	"sagaflow/internal/instance"
	"sagaflow/internal/invoker"
	"sagaflow/internal/retry"
	"sagaflow/internal/saga"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
	"sagaflow/internal/store/memory"
)

type recordingInvoker struct {
	mu       sync.Mutex
	handlers map[string]invoker.Handler
	inFlight int
	maxSeen  int
}

func newRecordingInvoker() *recordingInvoker {
	return &recordingInvoker{handlers: make(map[string]invoker.Handler)}
}

func (r *recordingInvoker) handle(op string, h invoker.Handler) {
	r.handlers[op] = h
}

func (r *recordingInvoker) succeed(op string) {
	r.handle(op, func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
}

func (r *recordingInvoker) Invoke(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	h, ok := r.handlers[req.Operation]
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()
	if !ok {
		return nil, fmt.Errorf("no handler for %q", req.Operation)
	}
	return h(ctx, req)
}

func (r *recordingInvoker) maxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}

func fastPolicy() saga.Policy {
	return saga.Policy{
		Timeout:     time.Second,
		MaxAttempts: 2,
		Backoff:     retry.Config{Base: time.Millisecond, Max: 2 * time.Millisecond, Jitter: 0},
	}
}

func orderDefinition() saga.Definition {
	return saga.Definition{
		Name: "create-order",
		Steps: []saga.Step{
			{Name: "reserve-inventory", Action: "inventory.reserve", Compensation: "inventory.release", Policy: fastPolicy()},
			{Name: "charge-payment", Action: "payment.charge", Compensation: "payment.refund", Policy: fastPolicy()},
		},
	}
}

func newSupervisor(t *testing.T, st *memory.Store, inv invoker.Invoker, cfg Config) *Supervisor {
	t.Helper()
	reg, err := saga.NewRegistry(orderDefinition())
	require.NoError(t, err)
	coord, err := compensate.New(st, inv, nil)
	require.NoError(t, err)
	eng, err := engine.New(st, inv, coord)
	require.NoError(t, err)
	sup, err := New(reg, st, eng, cfg)
	require.NoError(t, err)
	return sup
}

func TestSubmitUnknownDefinition(t *testing.T) {
	st := memory.New()
	sup := newSupervisor(t, st, newRecordingInvoker(), DefaultConfig())
	defer sup.Close()

	_, err := sup.Submit(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownDefinition)
}

func TestSubmitRunsToCompletion(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	inv.succeed("inventory.reserve")
	inv.succeed("payment.charge")
	sup := newSupervisor(t, st, inv, DefaultConfig())
	defer sup.Close()

	id, err := sup.Submit(context.Background(), "create-order", json.RawMessage(`{"order":"o-1"}`))
	require.NoError(t, err)
	sup.Wait()

	in, err := sup.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, in.Status)
	assert.Equal(t, 2, in.CurrentStep)
	for _, rec := range in.Steps {
		assert.Equal(t, state.StepSucceeded, rec.Status)
	}
}

func TestStatusNotFound(t *testing.T) {
	st := memory.New()
	sup := newSupervisor(t, st, newRecordingInvoker(), DefaultConfig())
	defer sup.Close()

	_, err := sup.Status(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelNotFound(t *testing.T) {
	st := memory.New()
	sup := newSupervisor(t, st, newRecordingInvoker(), DefaultConfig())
	defer sup.Close()

	require.ErrorIs(t, sup.Cancel(context.Background(), "missing"), store.ErrNotFound)
}

func TestCancelQueuedInstance(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	inv.handle("inventory.reserve", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		once.Do(func() { close(started) })
		<-release
		return json.RawMessage(`{}`), nil
	})
	inv.succeed("payment.charge")
	sup := newSupervisor(t, st, inv, Config{PoolSize: 1})
	defer sup.Close()

	// First saga occupies the single slot; the second never gets one.
	first, err := sup.Submit(context.Background(), "create-order", nil)
	require.NoError(t, err)
	<-started
	second, err := sup.Submit(context.Background(), "create-order", nil)
	require.NoError(t, err)

	require.NoError(t, sup.Cancel(context.Background(), second))
	close(release)
	sup.Wait()

	in, err := sup.Status(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, state.Cancelled, in.Status)
	for _, rec := range in.Steps {
		assert.Equal(t, state.StepPending, rec.Status)
	}

	firstIn, err := sup.Status(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, firstIn.Status)
}

func TestCancelInFlightCompensates(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	inv.succeed("inventory.reserve")
	inv.succeed("inventory.release")
	inFlight := make(chan struct{})
	inv.handle("payment.charge", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		close(inFlight)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	sup := newSupervisor(t, st, inv, DefaultConfig())
	defer sup.Close()

	id, err := sup.Submit(context.Background(), "create-order", nil)
	require.NoError(t, err)
	<-inFlight
	require.NoError(t, sup.Cancel(context.Background(), id))
	sup.Wait()

	in, err := sup.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.Compensated, in.Status)
	assert.Equal(t, state.StepCompensated, in.Steps[0].Status)
	assert.Equal(t, state.StepFailed, in.Steps[1].Status)
}

func TestCancelTerminalInstanceIsNoOp(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	inv.succeed("inventory.reserve")
	inv.succeed("payment.charge")
	sup := newSupervisor(t, st, inv, DefaultConfig())
	defer sup.Close()

	id, err := sup.Submit(context.Background(), "create-order", nil)
	require.NoError(t, err)
	sup.Wait()
	require.NoError(t, sup.Cancel(context.Background(), id))

	in, err := sup.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, in.Status)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	gate := make(chan struct{})
	inv.handle("inventory.reserve", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		select {
		case <-gate:
		case <-time.After(50 * time.Millisecond):
		}
		return json.RawMessage(`{}`), nil
	})
	inv.succeed("payment.charge")
	sup := newSupervisor(t, st, inv, Config{PoolSize: 2})
	defer sup.Close()

	for i := 0; i < 6; i++ {
		_, err := sup.Submit(context.Background(), "create-order", nil)
		require.NoError(t, err)
	}
	close(gate)
	sup.Wait()

	assert.LessOrEqual(t, inv.maxConcurrent(), 2)
}

func TestRecoverResumesActiveInstances(t *testing.T) {
	st := memory.New()
	def := orderDefinition()

	// A previous process crashed after the first step succeeded.
	in := instance.New(def, json.RawMessage(`{"order":"o-9"}`), time.Now())
	require.NoError(t, st.Create(context.Background(), in))
	in.Status = state.Running
	in.Steps[0].Status = state.StepSucceeded
	in.Steps[0].Attempts = 1
	in.Steps[0].Result = json.RawMessage(`{"hold":"h-9"}`)
	in.CurrentStep = 1
	in.Steps[1].Status = state.StepInProgress
	in.Steps[1].Attempts = 1
	in.Version++
	require.NoError(t, st.CompareAndSwap(context.Background(), in.Version-1, in))

	inv := newRecordingInvoker()
	inv.succeed("inventory.reserve")
	inv.succeed("payment.charge")
	sup := newSupervisor(t, st, inv, DefaultConfig())
	defer sup.Close()

	resumed, err := sup.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	sup.Wait()

	got, err := sup.Status(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, got.Status)
	assert.Equal(t, state.StepSucceeded, got.Steps[1].Status)
	// The interrupted step kept its persisted attempt count.
	assert.Equal(t, 1, got.Steps[1].Attempts)
}

func TestRecoverResumesCompensatingInstance(t *testing.T) {
	st := memory.New()
	def := orderDefinition()

	// A previous process crashed mid-rollback: the payment step failed and
	// the inventory hold was still waiting to be released.
	in := instance.New(def, nil, time.Now())
	require.NoError(t, st.Create(context.Background(), in))
	in.Status = state.Running
	in.Steps[0].Status = state.StepSucceeded
	in.Steps[0].Attempts = 1
	in.Steps[0].Result = json.RawMessage(`{"hold":"h-3"}`)
	in.CurrentStep = 1
	in.Steps[1].Status = state.StepFailed
	in.Steps[1].Attempts = 2
	require.NoError(t, in.SetStatus(state.Compensating))
	in.Version++
	require.NoError(t, st.CompareAndSwap(context.Background(), in.Version-1, in))

	inv := newRecordingInvoker()
	inv.succeed("inventory.release")
	sup := newSupervisor(t, st, inv, DefaultConfig())
	defer sup.Close()

	resumed, err := sup.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	sup.Wait()

	got, err := sup.Status(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, state.Compensated, got.Status)
	assert.Equal(t, state.StepCompensated, got.Steps[0].Status)
}

func TestRecoverNothingActive(t *testing.T) {
	st := memory.New()
	sup := newSupervisor(t, st, newRecordingInvoker(), DefaultConfig())
	defer sup.Close()

	resumed, err := sup.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	st := memory.New()
	inv := newRecordingInvoker()
	reg, err := saga.NewRegistry(orderDefinition())
	require.NoError(t, err)
	coord, err := compensate.New(st, inv, nil)
	require.NoError(t, err)
	eng, err := engine.New(st, inv, coord)
	require.NoError(t, err)

	if _, err := New(nil, st, eng, DefaultConfig()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(reg, nil, eng, DefaultConfig()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(reg, st, nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(reg, st, eng, Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

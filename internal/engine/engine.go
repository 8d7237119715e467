package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"sagaflow/internal/compensate"
	"sagaflow/internal/idempotency"
	"sagaflow/internal/instance"
	"sagaflow/internal/invoker"
	"sagaflow/internal/metrics"
	"sagaflow/internal/retry"
	"sagaflow/internal/saga"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

// Engine drives one saga instance at a time through its steps. The caller
// must own the instance exclusively; the state store's compare-and-swap
// rejects a second driver after a crash/restart race.
type Engine struct {
	store       store.Store
	invoker     invoker.Invoker
	coordinator *compensate.Coordinator
	rng         *rand.Rand
	now         func() time.Time
}

func New(st store.Store, inv invoker.Invoker, coordinator *compensate.Coordinator) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if inv == nil {
		return nil, errors.New("invoker is required")
	}
	if coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	return &Engine{
		store:       st,
		invoker:     inv,
		coordinator: coordinator,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}, nil
}

// Run executes in until it reaches a terminal status. Resuming a recovered
// instance is the same call: execution picks up at the persisted step
// index, and the stable idempotency keys make re-invocation safe.
func (e *Engine) Run(ctx context.Context, def saga.Definition, in *instance.SagaInstance) (state.InstanceStatus, error) {
	if state.IsTerminal(in.Status) {
		return in.Status, nil
	}
	if in.Status == state.Compensating {
		return e.coordinator.Compensate(ctx, def, in)
	}
	if len(def.Steps) != len(in.Steps) {
		return "", fmt.Errorf("instance %s has %d records for %d steps", in.ID, len(in.Steps), len(def.Steps))
	}

	if in.Status == state.Created {
		if ctx.Err() != nil {
			return e.cancel(ctx, in)
		}
		if err := in.SetStatus(state.Running); err != nil {
			return "", err
		}
		if err := e.persist(ctx, in); err != nil {
			return "", err
		}
	}

	for i := in.CurrentStep; i < len(def.Steps); i++ {
		if ctx.Err() != nil {
			if !in.Started() {
				return e.cancel(ctx, in)
			}
			// Cancellation after work has been done is a forced failure:
			// roll back on a context that outlives the cancel.
			return e.coordinator.Compensate(context.WithoutCancel(ctx), def, in)
		}

		step := def.Steps[i]
		rec := in.Step(i)
		if rec.StepName != step.Name {
			return "", fmt.Errorf("instance %s record %d is %q, definition says %q", in.ID, i, rec.StepName, step.Name)
		}

		status, done, err := e.runStep(ctx, def, in, step, rec, i)
		if err != nil || done {
			return status, err
		}
	}

	if err := in.SetStatus(state.Completed); err != nil {
		return "", err
	}
	if err := e.persist(ctx, in); err != nil {
		return "", err
	}
	return state.Completed, nil
}

// runStep drives one step to succeeded or hands the instance to the
// compensation coordinator. done reports that Run should stop with status.
func (e *Engine) runStep(ctx context.Context, def saga.Definition, in *instance.SagaInstance, step saga.Step, rec *instance.StepRecord, index int) (state.InstanceStatus, bool, error) {
	if rec.Status == state.StepPending {
		rec.Status = state.StepInProgress
		rec.Attempts = 1
		if err := e.persist(ctx, in); err != nil {
			return "", true, err
		}
	}
	// A record already in progress is a crash resume: keep its attempt
	// count and re-invoke under the same idempotency key.

	req := invoker.Request{
		Operation:      step.Action,
		StepName:       step.Name,
		IdempotencyKey: idempotency.Key(in.ID, step.Name),
		Payload:        in.Input,
	}

	for {
		invokeCtx, cancel := context.WithTimeout(ctx, step.Policy.Timeout)
		result, err := e.invoker.Invoke(invokeCtx, req)
		cancel()
		if err == nil {
			rec.Status = state.StepSucceeded
			rec.Result = result
			rec.LastError = ""
			in.CurrentStep = index + 1
			if perr := e.persist(ctx, in); perr != nil {
				return "", true, perr
			}
			return "", false, nil
		}

		rec.LastError = err.Error()
		if ctx.Err() != nil {
			// The worker was cancelled, not the step's own deadline.
			if perr := e.persist(context.WithoutCancel(ctx), in); perr != nil {
				return "", true, perr
			}
			status, cerr := e.forceFail(context.WithoutCancel(ctx), def, in, rec)
			return status, true, cerr
		}
		if invoker.IsTerminal(err) || rec.Attempts >= step.Policy.MaxAttempts {
			log.Printf("saga %s: step %s failed after %d attempt(s): %v", in.ID, step.Name, rec.Attempts, err)
			status, cerr := e.forceFail(ctx, def, in, rec)
			return status, true, cerr
		}

		metrics.IncStepRetry(def.Name, step.Name)
		delay, derr := retry.NextDelay(step.Policy.Backoff, rec.Attempts, e.rng)
		if derr != nil {
			return "", true, derr
		}
		select {
		case <-ctx.Done():
			if perr := e.persist(context.WithoutCancel(ctx), in); perr != nil {
				return "", true, perr
			}
			status, cerr := e.forceFail(context.WithoutCancel(ctx), def, in, rec)
			return status, true, cerr
		case <-time.After(delay):
		}

		rec.Attempts++
		if err := e.persist(ctx, in); err != nil {
			return "", true, err
		}
	}
}

// forceFail marks the in-flight record failed and runs compensation.
func (e *Engine) forceFail(ctx context.Context, def saga.Definition, in *instance.SagaInstance, rec *instance.StepRecord) (state.InstanceStatus, error) {
	rec.Status = state.StepFailed
	if err := e.persist(ctx, in); err != nil {
		return "", err
	}
	return e.coordinator.Compensate(ctx, def, in)
}

// cancel marks a never-started instance cancelled.
func (e *Engine) cancel(ctx context.Context, in *instance.SagaInstance) (state.InstanceStatus, error) {
	base := context.WithoutCancel(ctx)
	if err := in.SetStatus(state.Cancelled); err != nil {
		return "", err
	}
	if err := e.persist(base, in); err != nil {
		return "", err
	}
	return state.Cancelled, nil
}

func (e *Engine) persist(ctx context.Context, in *instance.SagaInstance) error {
	expected := in.Version
	in.Version++
	in.UpdatedAt = e.now()
	if err := e.store.CompareAndSwap(ctx, expected, in); err != nil {
		in.Version = expected
		return err
	}
	return nil
}

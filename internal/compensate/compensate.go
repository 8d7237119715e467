package compensate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"sagaflow/internal/alert"
	"sagaflow/internal/idempotency"
	"sagaflow/internal/instance"
	"sagaflow/internal/invoker"
	"sagaflow/internal/metrics"
	"sagaflow/internal/retry"
	"sagaflow/internal/saga"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

const skipWarning = "no compensation defined; skipped"

// Coordinator walks a failed instance's succeeded steps in reverse
// completion order and invokes their compensations. A compensation that
// exhausts its retries parks the instance as compensation_failed and emits
// exactly one alert; the walk is never resumed automatically.
type Coordinator struct {
	store    store.Store
	invoker  invoker.Invoker
	notifier alert.Notifier
	rng      *rand.Rand
	now      func() time.Time
}

func New(st store.Store, inv invoker.Invoker, notifier alert.Notifier) (*Coordinator, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if inv == nil {
		return nil, errors.New("invoker is required")
	}
	if notifier == nil {
		notifier = alert.NoopNotifier{}
	}
	return &Coordinator{
		store:    st,
		invoker:  inv,
		notifier: notifier,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}, nil
}

// Compensate drives in to compensated or compensation_failed. The caller
// owns the instance exclusively; every transition is persisted before the
// next action runs.
func (c *Coordinator) Compensate(ctx context.Context, def saga.Definition, in *instance.SagaInstance) (state.InstanceStatus, error) {
	if err := in.SetStatus(state.Compensating); err != nil {
		return "", err
	}
	if err := c.persist(ctx, in); err != nil {
		return "", err
	}

	for i := len(in.Steps) - 1; i >= 0; i-- {
		rec := in.Step(i)
		switch rec.Status {
		case state.StepSucceeded, state.StepCompensating:
			// StepCompensating means a crash interrupted this record;
			// re-driving it is safe under the idempotency key contract.
		default:
			continue
		}

		step, ok := def.StepByName(rec.StepName)
		if !ok {
			return "", fmt.Errorf("step %q not in definition %q", rec.StepName, def.Name)
		}

		if step.Compensation == "" {
			rec.Status = state.StepCompensated
			rec.Warning = skipWarning
			if err := c.persist(ctx, in); err != nil {
				return "", err
			}
			log.Printf("saga %s: step %s has no compensation; skipping", in.ID, rec.StepName)
			continue
		}

		if rec.Status != state.StepCompensating {
			rec.Status = state.StepCompensating
			rec.Attempts = 0
			if err := c.persist(ctx, in); err != nil {
				return "", err
			}
		}

		if done, err := c.compensateStep(ctx, def, in, rec, step); err != nil {
			return "", err
		} else if !done {
			// Exhausted retries; instance already parked and alerted.
			return state.CompensationFailed, nil
		}
	}

	if err := in.SetStatus(state.Compensated); err != nil {
		return "", err
	}
	if err := c.persist(ctx, in); err != nil {
		return "", err
	}
	return state.Compensated, nil
}

// compensateStep runs one compensation under the step's retry policy.
// It returns false when the compensation exhausted its attempts.
func (c *Coordinator) compensateStep(ctx context.Context, def saga.Definition, in *instance.SagaInstance, rec *instance.StepRecord, step saga.Step) (bool, error) {
	req := invoker.Request{
		Operation:      step.Compensation,
		StepName:       step.Name,
		IdempotencyKey: idempotency.CompensationKey(in.ID, step.Name),
		Payload:        rec.Result,
		Compensation:   true,
	}

	for {
		rec.Attempts++
		if err := c.persist(ctx, in); err != nil {
			return false, err
		}

		invokeCtx, cancel := context.WithTimeout(ctx, step.Policy.Timeout)
		_, err := c.invoker.Invoke(invokeCtx, req)
		cancel()
		if err == nil {
			rec.Status = state.StepCompensated
			rec.LastError = ""
			if perr := c.persist(ctx, in); perr != nil {
				return false, perr
			}
			return true, nil
		}

		rec.LastError = err.Error()
		if invoker.IsTerminal(err) || rec.Attempts >= step.Policy.MaxAttempts {
			return false, c.park(ctx, def, in, rec)
		}
		if ctx.Err() != nil {
			// Shutdown, not exhaustion: leave the record compensating so
			// recovery resumes it.
			return false, ctx.Err()
		}

		metrics.IncStepRetry(def.Name, step.Name)
		delay, derr := retry.NextDelay(step.Policy.Backoff, rec.Attempts, c.rng)
		if derr != nil {
			return false, derr
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// park records the compensation failure, persists the terminal state, and
// emits the single alert for operator intervention.
func (c *Coordinator) park(ctx context.Context, def saga.Definition, in *instance.SagaInstance, rec *instance.StepRecord) error {
	// The terminal write and the alert must land even when the caller's
	// context is already cancelled.
	base := context.WithoutCancel(ctx)

	rec.Status = state.StepCompensationFailed
	if err := in.SetStatus(state.CompensationFailed); err != nil {
		return err
	}
	if err := c.persist(base, in); err != nil {
		return err
	}

	event := alert.CompensationFailed{
		InstanceID: in.ID,
		Definition: def.Name,
		StepName:   rec.StepName,
		LastError:  rec.LastError,
		OccurredAt: c.now(),
	}
	metrics.IncCompensationAlert()
	if err := c.notifier.NotifyCompensationFailed(base, event); err != nil {
		log.Printf("saga %s: alert delivery failed: %v", in.ID, err)
	}
	log.Printf("saga %s: compensation for step %s failed; operator intervention required", in.ID, rec.StepName)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, in *instance.SagaInstance) error {
	expected := in.Version
	in.Version++
	in.UpdatedAt = c.now()
	if err := c.store.CompareAndSwap(ctx, expected, in); err != nil {
		in.Version = expected
		return err
	}
	return nil
}

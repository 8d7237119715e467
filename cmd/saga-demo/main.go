package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sagaflow/internal/compensate"
	"sagaflow/internal/engine"
	"sagaflow/internal/invoker"
	"sagaflow/internal/retry"
	"sagaflow/internal/saga"
	"sagaflow/internal/store/memory"
	"sagaflow/internal/supervisor"
)

// Runs the create-order saga twice against in-process handlers: once on the
// happy path and once with shipping failing, which rolls back the payment
// and the inventory hold.
func main() {
	policy := saga.Policy{
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     retry.Config{Base: 50 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.2},
	}
	def := saga.Definition{
		Name: "create-order",
		Steps: []saga.Step{
			{Name: "reserve-inventory", Action: "inventory.reserve", Compensation: "inventory.release", Policy: policy},
			{Name: "charge-payment", Action: "payment.charge", Compensation: "payment.refund", Policy: policy},
			{Name: "schedule-shipping", Action: "shipping.schedule", Policy: policy},
		},
	}

	inv := invoker.NewRegistry()
	mustRegister(inv, "inventory.reserve", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		log.Printf("[inventory] reserved (key=%s)", req.IdempotencyKey)
		return json.RawMessage(`{"hold":"h-1001"}`), nil
	})
	mustRegister(inv, "inventory.release", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		log.Printf("[inventory] released hold (key=%s)", req.IdempotencyKey)
		return json.RawMessage(`{}`), nil
	})
	mustRegister(inv, "payment.charge", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		log.Printf("[payment] charged (key=%s)", req.IdempotencyKey)
		return json.RawMessage(`{"charge":"ch-77"}`), nil
	})
	mustRegister(inv, "payment.refund", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		log.Printf("[payment] refunded charge (key=%s)", req.IdempotencyKey)
		return json.RawMessage(`{}`), nil
	})

	shippingDown := false
	mustRegister(inv, "shipping.schedule", func(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
		if shippingDown {
			return nil, invoker.Terminal(fmt.Errorf("carrier rejected the order"))
		}
		log.Printf("[shipping] scheduled (key=%s)", req.IdempotencyKey)
		return json.RawMessage(`{"tracking":"tr-1"}`), nil
	})

	st := memory.New()
	registry, err := saga.NewRegistry(def)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	coordinator, err := compensate.New(st, inv, nil)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	eng, err := engine.New(st, inv, coordinator)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	sup, err := supervisor.New(registry, st, eng, supervisor.DefaultConfig())
	if err != nil {
		log.Fatalf("supervisor: %v", err)
	}
	defer sup.Close()

	run(sup, "happy path", `{"order":"o-1","sku":"widget","qty":2}`)

	shippingDown = true
	run(sup, "shipping down", `{"order":"o-2","sku":"widget","qty":1}`)
}

func run(sup *supervisor.Supervisor, label, input string) {
	ctx := context.Background()
	id, err := sup.Submit(ctx, "create-order", json.RawMessage(input))
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	sup.Wait()

	in, err := sup.Status(ctx, id)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	fmt.Printf("\n%s: saga %s finished %s\n", label, id, in.Status)
	for _, rec := range in.Steps {
		line := fmt.Sprintf("  %-18s %-12s attempts=%d", rec.StepName, rec.Status, rec.Attempts)
		if rec.LastError != "" {
			line += " last_error=" + rec.LastError
		}
		if rec.Warning != "" {
			line += " warning=" + rec.Warning
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func mustRegister(r *invoker.Registry, op string, h invoker.Handler) {
	if err := r.Register(op, h); err != nil {
		log.Fatalf("register %s: %v", op, err)
	}
}

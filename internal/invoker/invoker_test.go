package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestTerminalWrap(t *testing.T) {
	base := errors.New("card declined")
	err := Terminal(base)
	if !IsTerminal(err) {
		t.Fatalf("expected terminal")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected unwrap to base error")
	}
	if IsTerminal(base) {
		t.Fatalf("plain error should not be terminal")
	}
	if Terminal(nil) != nil {
		t.Fatalf("Terminal(nil) should be nil")
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("inventory.reserve", func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`{"hold":"h-1"}`), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := reg.Invoke(context.Background(), Request{Operation: "inventory.reserve"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(res) != `{"hold":"h-1"}` {
		t.Fatalf("result = %s", res)
	}
}

func TestRegistryUnknownOperation(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), Request{Operation: "missing"})
	if err == nil || !IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	h := func(ctx context.Context, req Request) (json.RawMessage, error) { return nil, nil }
	if err := reg.Register("op", h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("op", h); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistryHonorsCancelledContext(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("op", func(ctx context.Context, req Request) (json.RawMessage, error) {
		called = true
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.Invoke(ctx, Request{Operation: "op"}); err == nil {
		t.Fatalf("expected error")
	}
	if called {
		t.Fatalf("handler should not run after cancel")
	}
}

func TestNoopEchoesPayload(t *testing.T) {
	res, err := Noop{}.Invoke(context.Background(), Request{Payload: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(res) != `{"a":1}` {
		t.Fatalf("result = %s", res)
	}
}

package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes one operation in-process.
type Handler func(ctx context.Context, req Request) (json.RawMessage, error)

// Registry is an Invoker dispatching on operation name. Handlers are
// registered at startup; dispatch never requires touching the engine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(operation string, h Handler) error {
	if operation == "" {
		return fmt.Errorf("operation name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[operation]; exists {
		return fmt.Errorf("duplicate operation %q", operation)
	}
	r.handlers[operation] = h
	return nil
}

func (r *Registry) Invoke(ctx context.Context, req Request) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[req.Operation]
	r.mu.RUnlock()
	if !ok {
		return nil, Terminal(fmt.Errorf("unknown operation %q", req.Operation))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(ctx, req)
}

// Noop is an Invoker that succeeds immediately, echoing the payload.
// Useful for wiring a daemon before real operations exist.
type Noop struct{}

func (Noop) Invoke(ctx context.Context, req Request) (json.RawMessage, error) {
	return req.Payload, nil
}

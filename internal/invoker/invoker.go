package invoker

import (
	"context"
	"encoding/json"
	"errors"
)

// Request describes one invocation of a remote operation. IdempotencyKey is
// stable across retries and crash recovery; the callee must be safe to call
// more than once with the same key.
type Request struct {
	Operation      string
	StepName       string
	IdempotencyKey string
	Payload        json.RawMessage
	Compensation   bool
}

// Invoker performs the actual remote call for a step's action or
// compensation. Implementations must honor ctx cancellation and deadlines.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (json.RawMessage, error)
}

// TerminalError marks a failure that must not be retried, such as a
// business-rule rejection.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err so the engine stops retrying immediately.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err opted out of further retries.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

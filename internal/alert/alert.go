package alert

import (
	"context"
	"time"
)

// CompensationFailed is emitted exactly once when a compensation exhausts
// its retries and the instance is parked for operator intervention.
type CompensationFailed struct {
	InstanceID string    `json:"instance_id"`
	Definition string    `json:"definition"`
	StepName   string    `json:"step_name"`
	LastError  string    `json:"last_error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers alerts to an external channel. Delivery is best-effort;
// a failed notification never changes saga state.
type Notifier interface {
	NotifyCompensationFailed(ctx context.Context, event CompensationFailed) error
}

type NoopNotifier struct{}

func (NoopNotifier) NotifyCompensationFailed(ctx context.Context, event CompensationFailed) error {
	return nil
}

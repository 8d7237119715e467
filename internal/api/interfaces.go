package api

import (
	"context"
	"encoding/json"

	"sagaflow/internal/instance"
)

type Orchestrator interface {
	Submit(ctx context.Context, definitionName string, input json.RawMessage) (string, error)
	Status(ctx context.Context, id string) (*instance.SagaInstance, error)
	Cancel(ctx context.Context, id string) error
}

package instance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sagaflow/internal/saga"
	"sagaflow/internal/state"
)

// StepRecord is the durable audit trail for one step of an instance.
// Records are created pending, updated in place, and never removed.
type StepRecord struct {
	StepName  string           `json:"step_name"`
	Status    state.StepStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	Result    json.RawMessage  `json:"result,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}

// SagaInstance is the persisted progress of one saga run. Version is the
// optimistic concurrency counter checked by the state store on every write.
type SagaInstance struct {
	ID             string               `json:"id"`
	DefinitionName string               `json:"definition_name"`
	Input          json.RawMessage      `json:"input,omitempty"`
	Status         state.InstanceStatus `json:"status"`
	CurrentStep    int                  `json:"current_step"`
	Steps          []StepRecord         `json:"steps"`
	Version        int64                `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// New builds a fresh instance for a definition with one pending record per
// step, so the trail shows unattempted steps explicitly.
func New(def saga.Definition, input json.RawMessage, now time.Time) *SagaInstance {
	steps := make([]StepRecord, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = StepRecord{StepName: s.Name, Status: state.StepPending}
	}
	return &SagaInstance{
		ID:             uuid.NewString(),
		DefinitionName: def.Name,
		Input:          input,
		Status:         state.Created,
		Steps:          steps,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers never observe a torn read.
func (in *SagaInstance) Clone() *SagaInstance {
	out := *in
	out.Steps = make([]StepRecord, len(in.Steps))
	copy(out.Steps, in.Steps)
	for i := range out.Steps {
		out.Steps[i].Result = append(json.RawMessage(nil), in.Steps[i].Result...)
	}
	out.Input = append(json.RawMessage(nil), in.Input...)
	return &out
}

// SetStatus transitions the instance, rejecting moves the state machine
// does not allow.
func (in *SagaInstance) SetStatus(s state.InstanceStatus) error {
	if s == in.Status {
		return nil
	}
	if !state.CanTransition(in.Status, s) {
		return fmt.Errorf("illegal transition %s -> %s for instance %s", in.Status, s, in.ID)
	}
	in.Status = s
	return nil
}

// Step returns the record at index i.
func (in *SagaInstance) Step(i int) *StepRecord {
	return &in.Steps[i]
}

// Started reports whether any step has ever left pending. An instance that
// never started can be cancelled without compensation.
func (in *SagaInstance) Started() bool {
	for i := range in.Steps {
		if in.Steps[i].Status != state.StepPending {
			return true
		}
	}
	return false
}

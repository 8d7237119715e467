package saga

import (
	"fmt"
	"time"

	"sagaflow/internal/retry"
)

// Policy bounds a single attempt of a step action or compensation.
type Policy struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     retry.Config  `yaml:"backoff"`
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Backoff:     retry.DefaultConfig(),
	}
}

func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	return p.Backoff.Validate()
}

// Step describes one unit of work. Compensation is the name of the
// operation that undoes Action; empty means the step is not compensable.
type Step struct {
	Name         string `yaml:"name"`
	Action       string `yaml:"action"`
	Compensation string `yaml:"compensation"`
	Policy       Policy `yaml:"policy"`
}

// Definition is an ordered, immutable sequence of steps.
type Definition struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("saga name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("saga %q requires at least one step", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("saga %q: step name is required", d.Name)
		}
		if step.Action == "" {
			return fmt.Errorf("saga %q: step %q requires an action", d.Name, step.Name)
		}
		if _, exists := seen[step.Name]; exists {
			return fmt.Errorf("saga %q: duplicate step %q", d.Name, step.Name)
		}
		seen[step.Name] = struct{}{}
		if err := step.Policy.Validate(); err != nil {
			return fmt.Errorf("saga %q: step %q: %w", d.Name, step.Name, err)
		}
	}
	return nil
}

// StepByName returns the step definition for a recorded step name.
func (d Definition) StepByName(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

package state

// InstanceStatus is the lifecycle state of a saga instance.
type InstanceStatus string

const (
	Created            InstanceStatus = "created"
	Running            InstanceStatus = "running"
	Completed          InstanceStatus = "completed"
	Compensating       InstanceStatus = "compensating"
	Compensated        InstanceStatus = "compensated"
	CompensationFailed InstanceStatus = "compensation_failed"
	Cancelled          InstanceStatus = "cancelled"
)

// StepStatus is the lifecycle state of a single step record.
type StepStatus string

const (
	StepPending            StepStatus = "pending"
	StepInProgress         StepStatus = "in_progress"
	StepSucceeded          StepStatus = "succeeded"
	StepFailed             StepStatus = "failed"
	StepCompensating       StepStatus = "compensating"
	StepCompensated        StepStatus = "compensated"
	StepCompensationFailed StepStatus = "compensation_failed"
)

var instanceTransitions = map[InstanceStatus]map[InstanceStatus]bool{
	Created: {
		Running:   true,
		Cancelled: true,
	},
	Running: {
		Completed:    true,
		Compensating: true,
		// A running instance whose first step never left pending can be
		// cancelled without compensation.
		Cancelled: true,
	},
	Compensating: {
		Compensated:        true,
		CompensationFailed: true,
	},
}

var stepTransitions = map[StepStatus]map[StepStatus]bool{
	StepPending: {
		StepInProgress: true,
	},
	StepInProgress: {
		StepSucceeded: true,
		StepFailed:    true,
	},
	StepSucceeded: {
		StepCompensating: true,
		// A step without a compensation is marked compensated directly
		// so the backward walk leaves a complete trail.
		StepCompensated: true,
	},
	StepCompensating: {
		StepCompensated:        true,
		StepCompensationFailed: true,
	},
}

func CanTransition(from, to InstanceStatus) bool {
	next, ok := instanceTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func CanTransitionStep(from, to StepStatus) bool {
	next, ok := stepTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether no further automatic transition occurs.
func IsTerminal(s InstanceStatus) bool {
	switch s {
	case Completed, Compensated, CompensationFailed, Cancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether an instance must be resumed after a crash.
func IsActive(s InstanceStatus) bool {
	switch s {
	case Created, Running, Compensating:
		return true
	default:
		return false
	}
}

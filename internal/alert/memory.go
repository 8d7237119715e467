package alert

import (
	"context"
	"sync"
)

// MemoryNotifier records alerts in memory, for tests and the demo binary.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []CompensationFailed
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) NotifyCompensationFailed(ctx context.Context, event CompensationFailed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *MemoryNotifier) Events() []CompensationFailed {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]CompensationFailed, len(n.events))
	copy(out, n.events)
	return out
}

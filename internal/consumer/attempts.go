package consumer

import (
	"context"
	"sync"
)

// MemoryAttempts is a per-process attempt counter, used when Redis is not
// configured. Counts are lost on restart.
type MemoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{counts: make(map[string]int)}
}

func (a *MemoryAttempts) Incr(_ context.Context, key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[key]++
	return a.counts[key], nil
}

func (a *MemoryAttempts) Reset(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, key)
	return nil
}

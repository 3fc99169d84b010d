package gateway

import (
	"sync"
	"time"
)

// ConnectionHealth tracks per-connection circuit state. Critical failures
// accumulate until the connection is put on cooldown; any success clears
// it. State is process-local and never persisted.
type ConnectionHealth interface {
	IsDown(key string) bool
	RecordSuccess(key string)
	RecordFailure(key string, critical bool)
}

type circuit struct {
	fails    int
	nextUpAt time.Time
}

type memoryHealth struct {
	mu        sync.Mutex
	state     map[string]*circuit
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewConnectionHealth(threshold int, cooldown time.Duration) ConnectionHealth {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &memoryHealth{
		state:     make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (h *memoryHealth) IsDown(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.state[key]
	if !ok {
		return false
	}
	// No half-open state: once the cooldown passes the next attempt
	// simply counts as a normal try.
	return h.now().Before(c.nextUpAt)
}

func (h *memoryHealth) RecordSuccess(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.state, key)
}

func (h *memoryHealth) RecordFailure(key string, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.state[key]
	if !ok {
		c = &circuit{}
		h.state[key] = c
	}
	c.fails++
	if critical && c.fails >= h.threshold {
		c.nextUpAt = h.now().Add(h.cooldown)
	}
}

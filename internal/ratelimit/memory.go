package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery controls how often expired windows are pruned
const sweepEvery = 1024

type window struct {
	count   int
	resetAt time.Time
}

// Memory is an in-process fixed-window limiter
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

// NewMemory creates an in-process limiter
func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow implements Limiter
func (m *Memory) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		m.windows[key] = &window{count: 1, resetAt: now.Add(policy.Window)}
		return Decision{Allowed: true}, nil
	}

	if w.count < policy.Requests {
		w.count++
		return Decision{Allowed: true}, nil
	}

	return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
}

// Len returns the number of tracked windows
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}

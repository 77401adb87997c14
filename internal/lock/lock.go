// Package lock provides cluster-wide mutual exclusion for scheduled jobs.
//
// A lock is keyed by job name and carries two bounds: maxHold is how long
// the holder may keep it before it silently expires (crash safety), minHold
// is how long the name stays taken even after a fast run completes, which
// keeps a second instance from re-running the same job immediately and
// absorbs clock skew across instances.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker is the cluster-shared try-lock. Implementations must enforce the
// at-most-one-holder invariant in the shared store, not in process state.
type Locker interface {
	// TryAcquire takes the named lock until now+maxHold. It returns false,
	// without error, when another holder has it or its minimum hold window
	// has not elapsed yet.
	TryAcquire(ctx context.Context, name string, maxHold, minHold time.Duration) (bool, error)

	// Release shortens the hold to the minimum window so the next run can
	// start once minHold has elapsed rather than waiting out maxHold.
	Release(ctx context.Context, name string) error
}

// Memory is an in-process Locker for single-node deployments and tests.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	holds map[string]hold
}

type hold struct {
	heldUntil  time.Time // nobody may acquire before this
	acquiredAt time.Time
	minHold    time.Duration
}

// NewMemory returns an empty in-memory locker.
func NewMemory() *Memory {
	return &Memory{now: time.Now, holds: make(map[string]hold)}
}

// NewMemoryAt returns an in-memory locker using the given clock. Tests use
// this to step time manually.
func NewMemoryAt(now func() time.Time) *Memory {
	return &Memory{now: now, holds: make(map[string]hold)}
}

// TryAcquire implements Locker.
func (m *Memory) TryAcquire(ctx context.Context, name string, maxHold, minHold time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.holds[name]; ok && now.Before(h.heldUntil) {
		return false, nil
	}
	m.holds[name] = hold{
		heldUntil:  now.Add(maxHold),
		acquiredAt: now,
		minHold:    minHold,
	}
	return true, nil
}

// Release implements Locker.
func (m *Memory) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[name]
	if !ok {
		return nil
	}
	floor := h.acquiredAt.Add(h.minHold)
	if h.heldUntil.After(floor) {
		h.heldUntil = floor
		m.holds[name] = h
	}
	return nil
}

package lock

import (
	"context"
	"time"
)

// OperationLock is an acquired handle to a named lock, returned by Guard.
// Releasing twice is safe (the second Release is a stale-id no-op).
type OperationLock struct {
	manager *PriorityLockManager
	name    string
	lockID  string
}

// Guard acquires name at priority and returns a handle whose Release undoes
// the acquisition. Callers that need a defer-friendly acquire/release pair
// (C9's execute, for instance) should prefer this over calling Acquire/Release
// directly.
func (m *PriorityLockManager) Guard(ctx context.Context, name string, priority Priority, timeout time.Duration) (*OperationLock, error) {
	lockID, err := m.Acquire(ctx, name, priority, timeout)
	if err != nil {
		return nil, err
	}
	return &OperationLock{manager: m, name: name, lockID: lockID}, nil
}

// Release releases the underlying lock.
func (l *OperationLock) Release(ctx context.Context) error {
	return l.manager.Release(ctx, l.name, l.lockID)
}

// Name returns the locked operation name.
func (l *OperationLock) Name() string {
	return l.name
}

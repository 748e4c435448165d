package service

import "sync"

// UserLocks serializes local mutations per user. One instance is shared by
// the profile service and the sync engine so conflict adoption and UI writes
// for the same user never interleave. Remote I/O happens outside these
// locks.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks creates an empty lock table.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// ForUser returns the mutex for one user, creating it on first use.
func (l *UserLocks) ForUser(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	mu, ok := l.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[userID] = mu
	}
	return mu
}

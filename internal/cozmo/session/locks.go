package session

import "sync"

// Locks provides per-user mutual exclusion so that an engine transition and
// a reaper eviction for the same user never interleave. Operations for
// different users proceed in parallel.
//
// Entries are created on first use and retained for the life of the process.
// Each entry is a single mutex, so memory grows with the set of users seen,
// not with message volume.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty keyed lock set.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it if needed, and returns the
// matching unlock function:
//
//	unlock := locks.Lock(userID)
//	defer unlock()
func (l *Locks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

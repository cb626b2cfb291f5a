package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default Store implementation: a process-local map
// guarded by a single RWMutex. Every operation is a short in-memory
// read-modify-write, so one coarse lock is enough.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session // key: UserID
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
	}
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(userID, chatID string, now time.Time) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[userID]; ok {
		return sess, false, nil
	}

	sess := Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		ChatID:         chatID,
		Stage:          StageGreeting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[userID] = sess
	return sess, true, nil
}

// Get implements Store.
func (m *MemoryStore) Get(userID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Save implements Store.
func (m *MemoryStore) Save(sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.UserID] = sess
	return nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivityAt = now
	m.sessions[userID] = sess
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// ScanIdle implements Store.
func (m *MemoryStore) ScanIdle(threshold time.Duration, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []string
	for userID, sess := range m.sessions {
		if now.Sub(sess.LastActivityAt) > threshold {
			idle = append(idle, userID)
		}
	}
	return idle, nil
}

// EvictIfIdle implements Store. The idle check and the delete happen under
// the same lock acquisition, so a concurrent Save cannot be lost.
func (m *MemoryStore) EvictIfIdle(userID string, threshold time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return false, nil
	}
	if now.Sub(sess.LastActivityAt) <= threshold {
		return false, nil
	}
	delete(m.sessions, userID)
	return true, nil
}

// Count implements Store.
func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Close implements Store. A memory store holds no external resources.
func (m *MemoryStore) Close() error {
	return nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

// Sessions is the SQLite implementation of session.Store. Per-user
// serialisation still comes from the caller-held session.Locks; the store
// itself only guarantees that each statement is atomic.
type Sessions struct {
	store *Store
}

// NewSessions returns a session.Store backed by the given database.
func NewSessions(store *Store) *Sessions {
	return &Sessions{store: store}
}

// GetOrCreate implements session.Store.
func (s *Sessions) GetOrCreate(userID, chatID string, now time.Time) (session.Session, bool, error) {
	sess, err := s.Get(userID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return session.Session{}, false, err
	}

	sess = session.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		ChatID:         chatID,
		Stage:          session.StageGreeting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.Save(sess); err != nil {
		return session.Session{}, false, err
	}
	return sess, true, nil
}

// Get implements session.Store.
func (s *Sessions) Get(userID string) (session.Session, error) {
	row := s.store.db.QueryRow(`
		SELECT id, user_id, chat_id, stage, name, created_at, last_activity_at
		FROM sessions WHERE user_id = ?`, userID)

	var sess session.Session
	var stage string
	var createdAt, lastActivityAt int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ChatID, &stage, &sess.Name, &createdAt, &lastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("store: get session %s: %w", userID, err)
	}

	sess.Stage = session.Stage(stage)
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.LastActivityAt = time.Unix(0, lastActivityAt)
	return sess, nil
}

// Save implements session.Store.
func (s *Sessions) Save(sess session.Session) error {
	_, err := s.store.db.Exec(`
		INSERT INTO sessions (user_id, id, chat_id, stage, name, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			stage = excluded.stage,
			name = excluded.name,
			last_activity_at = excluded.last_activity_at`,
		sess.UserID, sess.ID, sess.ChatID, string(sess.Stage), sess.Name,
		sess.CreatedAt.UnixNano(), sess.LastActivityAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", sess.UserID, err)
	}
	return nil
}

// Touch implements session.Store.
func (s *Sessions) Touch(userID string, now time.Time) error {
	res, err := s.store.db.Exec(
		"UPDATE sessions SET last_activity_at = ? WHERE user_id = ?",
		now.UnixNano(), userID,
	)
	if err != nil {
		return fmt.Errorf("store: touch session %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: touch session %s: %w", userID, err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete implements session.Store.
func (s *Sessions) Delete(userID string) error {
	if _, err := s.store.db.Exec("DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("store: delete session %s: %w", userID, err)
	}
	return nil
}

// ScanIdle implements session.Store.
func (s *Sessions) ScanIdle(threshold time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-threshold).UnixNano()
	rows, err := s.store.db.Query(
		"SELECT user_id FROM sessions WHERE last_activity_at < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: scan idle sessions: %w", err)
	}
	defer rows.Close()

	var idle []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("store: scan idle sessions: %w", err)
		}
		idle = append(idle, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan idle sessions: %w", err)
	}
	return idle, nil
}

// EvictIfIdle implements session.Store. The idle condition is part of the
// DELETE itself, so the re-check and the removal are a single atomic
// statement.
func (s *Sessions) EvictIfIdle(userID string, threshold time.Duration, now time.Time) (bool, error) {
	cutoff := now.Add(-threshold).UnixNano()
	res, err := s.store.db.Exec(
		"DELETE FROM sessions WHERE user_id = ? AND last_activity_at < ?",
		userID, cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("store: evict session %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: evict session %s: %w", userID, err)
	}
	return n > 0, nil
}

// Count implements session.Store.
func (s *Sessions) Count() (int, error) {
	var n int
	if err := s.store.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return n, nil
}

// Close implements session.Store by closing the shared database.
func (s *Sessions) Close() error {
	return s.store.Close()
}

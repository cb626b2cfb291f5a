// Package session tracks per-user dialogue state between messages.
//
// A Session is the only mutable state the dialogue engine carries for a user.
// Sessions are created implicitly on the first inbound message, advanced by
// the engine on every subsequent message, and destroyed either explicitly
// (a completed farewell) or implicitly (the idle reaper). The absence of a
// session means "no active conversation"; there is no tombstone state.
package session

import (
	"errors"
	"time"
)

// Stage is the session's position in the fixed four-step conversation
// sequence. Transitions only move forward; no stage ever moves back.
type Stage string

const (
	// StageGreeting is the initial stage: the bot is waiting for a greeting.
	StageGreeting Stage = "greeting"
	// StageWellbeing means the bot has asked "how are you?".
	StageWellbeing Stage = "wellbeing"
	// StageNameRequest means the bot has asked for the user's name.
	StageNameRequest Stage = "name_request"
	// StageFarewell means the bot is waiting for a goodbye; a matching
	// farewell ends the conversation and deletes the session.
	StageFarewell Stage = "farewell"
)

// Valid reports whether s is one of the four defined stages. Sessions loaded
// from external storage may carry arbitrary values; the engine treats an
// invalid stage as "unrecognized input" rather than failing.
func (s Stage) Valid() bool {
	switch s {
	case StageGreeting, StageWellbeing, StageNameRequest, StageFarewell:
		return true
	}
	return false
}

// Session holds the dialogue state for one user. Exactly one session exists
// per active user ID at any time.
type Session struct {
	// ID is an internal unique identifier, assigned at creation.
	ID string
	// UserID is the external, stable identifier of the user.
	UserID string
	// ChatID identifies where replies for this conversation are delivered.
	ChatID string
	// Stage is the current conversation stage.
	Stage Stage
	// Name is the user's name, captured during the name-request stage.
	// Empty until extraction succeeds; never cleared afterwards.
	Name string
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// LastActivityAt is updated on every processed message and drives
	// idle eviction.
	LastActivityAt time.Time
}

// ErrNotFound is returned by store lookups for users with no active session.
// Callers should use errors.Is to distinguish this expected case from real
// storage errors.
var ErrNotFound = errors.New("session: not found")

// Store is the shared session registry. Implementations must be safe for
// concurrent use by handlers for different users; callers serialise
// operations on the same user ID through a Locks instance so that engine
// transitions and reaper evictions never interleave for one user.
//
// Sessions cross the Store boundary by value: a returned Session is a
// snapshot, and mutations become visible only through Save.
type Store interface {
	// GetOrCreate returns the session for userID, creating one at
	// StageGreeting with CreatedAt = LastActivityAt = now when absent.
	// The boolean reports whether a new session was created.
	GetOrCreate(userID, chatID string, now time.Time) (Session, bool, error)

	// Get returns the session for userID, or ErrNotFound.
	Get(userID string) (Session, error)

	// Save upserts the session keyed by its UserID.
	Save(sess Session) error

	// Touch updates LastActivityAt for an existing session. Returns
	// ErrNotFound when the user has no session; callers treat that as
	// "create fresh", never as fatal.
	Touch(userID string, now time.Time) error

	// Delete removes the session for userID. Deleting an absent session
	// is not an error.
	Delete(userID string) error

	// ScanIdle returns the user IDs of every session whose last activity
	// is older than threshold relative to now. The store is not mutated;
	// the caller performs eviction.
	ScanIdle(threshold time.Duration, now time.Time) ([]string, error)

	// EvictIfIdle deletes the session for userID only if it is still idle
	// past threshold at the moment of deletion. This re-check closes the
	// scan-then-delete race: a session touched between ScanIdle and
	// eviction survives. Reports whether a session was deleted.
	EvictIfIdle(userID string, threshold time.Duration, now time.Time) (bool, error)

	// Count returns the number of active sessions.
	Count() (int, error)

	// Close releases any resources held by the store.
	Close() error
}

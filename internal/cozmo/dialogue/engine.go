package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cozmobot/cozmo/internal/cozmo/script"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

// DefaultMaxMessageLength is the default upper bound on inbound utterances.
const DefaultMaxMessageLength = 1000

// defaultTermOfAddress is used in the goodbye when no name was captured.
const defaultTermOfAddress = "friend"

// ErrInvalidInput is returned for utterances that fail validation (empty or
// over the length limit). The session is not touched in that case; callers
// drop the message, optionally with a debug log.
var ErrInvalidInput = errors.New("dialogue: invalid input")

// Config holds the engine's validation limits.
type Config struct {
	// MaxMessageLength caps inbound utterances, in characters.
	// Defaults to DefaultMaxMessageLength when zero.
	MaxMessageLength int
	// MaxNameLength caps extracted names, in characters.
	// Defaults to DefaultMaxNameLength when zero.
	MaxNameLength int
}

// Engine is the dialogue state machine. Given a user's utterance it
// classifies it, applies the transition rule for the session's current
// stage, persists the mutated session, and returns the reply text.
//
// The engine never performs I/O toward the user: the returned reply is
// handed to the transport by the caller after all locks are released.
type Engine struct {
	store      session.Store
	locks      *session.Locks
	classifier *Classifier
	script     *script.Script
	config     Config
	logger     *slog.Logger

	// onProcessed, when set, is invoked once per successfully handled
	// message, after the user's lock is released. The reaper's counted
	// trigger hangs off this hook.
	onProcessed func()
}

// NewEngine builds an Engine over the given store, lock set, and dialogue
// script. If logger is nil, the default slog logger is used.
func NewEngine(store session.Store, locks *session.Locks, sc *script.Script, cfg Config, logger *slog.Logger) (*Engine, error) {
	classifier, err := NewClassifier(sc)
	if err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		locks:      locks,
		classifier: classifier,
		script:     sc,
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetOnProcessed registers the per-message hook. Must be called before the
// engine starts receiving messages.
func (e *Engine) SetOnProcessed(fn func()) {
	e.onProcessed = fn
}

// HandleMessage processes one inbound utterance for a user and returns the
// reply text to deliver. The ctx is accepted for interface symmetry with
// transports; the transition itself is in-memory and never blocks.
func (e *Engine) HandleMessage(ctx context.Context, userID, chatID, text string) (string, error) {
	return e.handleMessageAt(ctx, userID, chatID, text, time.Now())
}

// handleMessageAt is the time-injectable core of HandleMessage (for testing).
func (e *Engine) handleMessageAt(_ context.Context, userID, chatID, text string, now time.Time) (string, error) {
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > e.config.MaxMessageLength {
		return "", ErrInvalidInput
	}

	unlock := e.locks.Lock(userID)
	reply, err := e.process(userID, chatID, text, now)
	unlock()

	if err == nil && e.onProcessed != nil {
		e.onProcessed()
	}
	return reply, err
}

// Reset implements the explicit start/reset trigger: any existing session
// is discarded, a fresh greeting-stage session is created, and the script's
// opening prompt is returned.
func (e *Engine) Reset(ctx context.Context, userID, chatID string) (string, error) {
	return e.resetAt(ctx, userID, chatID, time.Now())
}

func (e *Engine) resetAt(_ context.Context, userID, chatID string, now time.Time) (string, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	if err := e.store.Delete(userID); err != nil {
		return "", fmt.Errorf("dialogue: reset %s: %w", userID, err)
	}
	if _, _, err := e.store.GetOrCreate(userID, chatID, now); err != nil {
		return "", fmt.Errorf("dialogue: reset %s: %w", userID, err)
	}
	e.logger.Info("session reset", "user_id", userID)
	return e.script.Opening, nil
}

// process runs the classify-transition-mutate sequence for one utterance.
// Caller holds the user's lock.
func (e *Engine) process(userID, chatID, text string, now time.Time) (string, error) {
	sess, created, err := e.store.GetOrCreate(userID, chatID, now)
	if err != nil {
		return "", fmt.Errorf("dialogue: session lookup for %s: %w", userID, err)
	}
	if created {
		e.logger.Info("session created", "user_id", userID)
	}
	sess.LastActivityAt = now

	outcome, failed := e.safeTransition(sess, text)
	if failed {
		// Classification or extraction blew up. Record the activity but
		// leave stage and name exactly as they were.
		if err := e.store.Save(sess); err != nil {
			e.logger.Error("session save after degraded transition", "user_id", userID, "err", err)
		}
		return e.script.Error, nil
	}

	if outcome.endSession {
		// The goodbye was composed from the session's name before this
		// point; deleting afterwards keeps the reply personalized.
		if err := e.store.Delete(userID); err != nil {
			return "", fmt.Errorf("dialogue: delete session %s: %w", userID, err)
		}
		e.logger.Info("conversation completed", "user_id", userID, "had_name", sess.Name != "")
		return outcome.reply, nil
	}

	sess.Stage = outcome.next
	if outcome.name != "" && sess.Name == "" {
		sess.Name = outcome.name
	}
	if err := e.store.Save(sess); err != nil {
		return "", fmt.Errorf("dialogue: save session %s: %w", userID, err)
	}
	return outcome.reply, nil
}

// transitionOutcome is the result of applying one transition-table row.
type transitionOutcome struct {
	reply      string
	next       session.Stage
	name       string // extracted name, empty unless the name stage advanced
	endSession bool   // farewell completed: delete instead of save
}

// safeTransition runs transition with a recover guard so a bug in the
// classifier or extractor degrades to a generic apology instead of taking
// the process down or corrupting the session.
func (e *Engine) safeTransition(sess session.Session, text string) (outcome transitionOutcome, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dialogue transition panicked",
				"user_id", sess.UserID,
				"stage", string(sess.Stage),
				"panic", fmt.Sprint(r),
			)
			failed = true
		}
	}()
	return e.transition(sess, text), false
}

// transition applies the transition table for the session's current stage.
// It mutates nothing; the caller applies the returned outcome.
func (e *Engine) transition(sess session.Session, text string) transitionOutcome {
	stay := func(reply string) transitionOutcome {
		return transitionOutcome{reply: reply, next: sess.Stage}
	}

	st, ok := e.script.StageFor(string(sess.Stage))
	if !ok || !sess.Stage.Valid() {
		// Undefined stage values (hand-edited storage, future versions)
		// fall back to the unrecognized reply without mutating anything.
		e.logger.Warn("session in unknown stage", "user_id", sess.UserID, "stage", string(sess.Stage))
		return stay(e.script.Unrecognized)
	}

	intent := e.classifier.Classify(text, sess.Stage)

	switch sess.Stage {
	case session.StageGreeting:
		if intent == IntentGreeting {
			return transitionOutcome{reply: st.Replies.Advance, next: session.StageWellbeing}
		}
		return stay(st.Replies.Reprompt)

	case session.StageWellbeing:
		// Wellbeing never blocks progression: any input advances, and the
		// detected sentiment only selects the acknowledgement wording.
		var reply string
		switch intent {
		case IntentPositive:
			reply = st.Replies.Positive
		case IntentNegative:
			reply = st.Replies.Negative
		default:
			reply = st.Replies.Neutral
		}
		return transitionOutcome{reply: reply, next: session.StageNameRequest}

	case session.StageNameRequest:
		name, ok := ExtractName(text, e.config.MaxNameLength)
		if !ok {
			return stay(st.Replies.Reprompt)
		}
		return transitionOutcome{
			reply: personalize(st.Replies.Advance, name),
			next:  session.StageFarewell,
			name:  name,
		}

	case session.StageFarewell:
		if intent == IntentFarewell {
			name := sess.Name
			if name == "" {
				name = defaultTermOfAddress
			}
			return transitionOutcome{
				reply:      personalize(st.Replies.Advance, name),
				next:       sess.Stage,
				endSession: true,
			}
		}
		return stay(st.Replies.Reprompt)
	}

	return stay(e.script.Unrecognized)
}

// personalize substitutes the {name} placeholder in a reply template.
func personalize(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}

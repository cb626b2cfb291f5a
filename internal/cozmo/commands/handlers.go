package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cozmobot/cozmo/common/trace"
	"github.com/cozmobot/cozmo/common/version"
	"github.com/cozmobot/cozmo/internal/cozmo/dialogue"
	"github.com/cozmobot/cozmo/internal/cozmo/matrix"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

// HandlersConfig wires the collaborators the command handlers need.
type HandlersConfig struct {
	Engine *dialogue.Engine
	Store  session.Store
	Reaper *session.Reaper
}

// Handlers implements the Cozmo slash commands.
type Handlers struct {
	engine    *dialogue.Engine
	store     session.Store
	reaper    *session.Reaper
	startedAt time.Time
}

// NewHandlers creates the command handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		engine:    cfg.Engine,
		store:     cfg.Store,
		reaper:    cfg.Reaper,
		startedAt: time.Now(),
	}
}

// HandleHelp lists the available commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
	return `Cozmo commands:
/cozmo start    - start the conversation over
/cozmo status   - show your conversation state
/cozmo cleanup  - evict idle sessions now
/cozmo version  - show version information
/cozmo help     - this message

Anything else you type is part of our conversation. Say 'hi' to begin!`, nil
}

// HandleVersion reports build information.
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
	return "Cozmo " + version.Info(), nil
}

// HandleStart is the explicit start/reset trigger: the sender's session is
// recreated from scratch and the opening prompt is returned.
func (h *Handlers) HandleStart(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
	return h.engine.Reset(ctx, msg.UserID, msg.ChatID)
}

// HandleStatus describes the sender's session and the overall store size.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
	total, err := h.store.Count()
	if err != nil {
		return "", fmt.Errorf("count sessions: %w", err)
	}

	sess, err := h.store.Get(msg.UserID)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Sprintf("No active conversation. Say 'hi' to start one!\n(%d active sessions, up %s)",
			total, time.Since(h.startedAt).Round(time.Second)), nil
	}
	if err != nil {
		return "", fmt.Errorf("look up session: %w", err)
	}

	name := sess.Name
	if name == "" {
		name = "(not captured yet)"
	}
	return fmt.Sprintf("Your conversation:\n  stage: %s\n  name: %s\n  started: %s\n  last activity: %s\n(%d active sessions, up %s)",
		sess.Stage, name,
		sess.CreatedAt.Format(time.RFC3339),
		sess.LastActivityAt.Format(time.RFC3339),
		total, time.Since(h.startedAt).Round(time.Second)), nil
}

// HandleCleanup runs an idle sweep immediately and reports the result.
func (h *Handlers) HandleCleanup(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
	if h.reaper == nil {
		return "Cleanup is not configured.", nil
	}
	evicted := h.reaper.Sweep(time.Now())
	slog.Info("manual cleanup requested",
		"user_id", msg.UserID, "evicted", evicted, "trace_id", trace.FromContext(ctx))
	return fmt.Sprintf("Cleanup done: %d idle session(s) evicted.", evicted), nil
}

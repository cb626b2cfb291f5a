// Package commands provides slash-command parsing and routing for Cozmo.
// Anything that is not a command is ordinary dialogue and goes to the
// engine instead.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cozmobot/cozmo/internal/cozmo/matrix"
)

// Command is a parsed slash command.
type Command struct {
	Name    string
	Args    []string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles a single command.
type Handler func(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for the given command prefix (e.g. "/cozmo").
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under a command name.
func (r *Router) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// Parse parses a message into a Command. A bare "/start" is accepted as an
// alias for the start command, matching what users expect from other
// messaging bots.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	if text == "/start" {
		return &Command{Name: "start", RawText: text}, nil
	}

	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	rest := strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	if rest == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(rest)
	return &Command{
		Name:    parts[0],
		Args:    parts[1:],
		RawText: rest,
	}, nil
}

// Route parses text and dispatches it to the matching handler.
func (r *Router) Route(ctx context.Context, text string, msg matrix.InboundMessage) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("unknown command: %s", cmd.Name)
	}
	return handler(ctx, cmd, msg)
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

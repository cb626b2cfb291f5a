package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cozmobot/cozmo/internal/cozmo/dialogue"
	"github.com/cozmobot/cozmo/internal/cozmo/matrix"
	"github.com/cozmobot/cozmo/internal/cozmo/script"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

func TestRouter_Parse(t *testing.T) {
	r := NewRouter("/cozmo")

	tests := []struct {
		name     string
		text     string
		wantName string
		wantArgs []string
		wantErr  bool
		notCmd   bool
	}{
		{
			name:     "simple command",
			text:     "/cozmo help",
			wantName: "help",
		},
		{
			name:     "command with args",
			text:     "/cozmo status verbose extra",
			wantName: "status",
			wantArgs: []string{"verbose", "extra"},
		},
		{
			name:     "surrounding whitespace",
			text:     "  /cozmo version  ",
			wantName: "version",
		},
		{
			name:     "bare start alias",
			text:     "/start",
			wantName: "start",
		},
		{
			name:   "plain dialogue",
			text:   "hello there",
			notCmd: true,
		},
		{
			name:   "different prefix",
			text:   "/other help",
			notCmd: true,
		},
		{
			name:    "prefix without command",
			text:    "/cozmo",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := r.Parse(tt.text)
			if tt.notCmd {
				if !errors.Is(err, ErrNotACommand) {
					t.Fatalf("Parse(%q) err = %v, want ErrNotACommand", tt.text, err)
				}
				return
			}
			if tt.wantErr {
				if err == nil || errors.Is(err, ErrNotACommand) {
					t.Fatalf("Parse(%q) err = %v, want a non-ErrNotACommand error", tt.text, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.text, err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", cmd.Name, tt.wantName)
			}
			if len(cmd.Args) != len(tt.wantArgs) {
				t.Fatalf("Args = %v, want %v", cmd.Args, tt.wantArgs)
			}
			for i := range tt.wantArgs {
				if cmd.Args[i] != tt.wantArgs[i] {
					t.Errorf("Args[%d] = %q, want %q", i, cmd.Args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestRouter_Route(t *testing.T) {
	r := NewRouter("/cozmo")
	r.Register("echo", func(ctx context.Context, cmd *Command, msg matrix.InboundMessage) (string, error) {
		return "echo:" + strings.Join(cmd.Args, ","), nil
	})

	got, err := r.Route(context.Background(), "/cozmo echo a b", matrix.InboundMessage{})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if got != "echo:a,b" {
		t.Errorf("Route() = %q", got)
	}

	if _, err := r.Route(context.Background(), "/cozmo nosuch", matrix.InboundMessage{}); err == nil {
		t.Error("expected error for unknown command")
	}
	if _, err := r.Route(context.Background(), "just chatting", matrix.InboundMessage{}); !errors.Is(err, ErrNotACommand) {
		t.Errorf("err = %v, want ErrNotACommand", err)
	}
}

func TestCommand_GetArg(t *testing.T) {
	cmd := &Command{Args: []string{"a", "b"}}
	if v, ok := cmd.GetArg(1); !ok || v != "b" {
		t.Errorf("GetArg(1) = (%q, %v)", v, ok)
	}
	if _, ok := cmd.GetArg(2); ok {
		t.Error("GetArg(2) should be out of range")
	}
	if _, ok := cmd.GetArg(-1); ok {
		t.Error("GetArg(-1) should be out of range")
	}
}

func newTestHandlers(t *testing.T) (*Handlers, session.Store) {
	t.Helper()
	store := session.NewMemoryStore()
	locks := session.NewLocks()
	engine, err := dialogue.NewEngine(store, locks, script.Default(), dialogue.Config{}, nil)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	reaper := session.NewReaper(store, locks, session.ReaperConfig{Threshold: time.Hour}, nil)
	return NewHandlers(HandlersConfig{Engine: engine, Store: store, Reaper: reaper}), store
}

func TestHandleStart(t *testing.T) {
	h, store := newTestHandlers(t)
	msg := matrix.InboundMessage{UserID: "@alice:test", ChatID: "!room:test"}

	reply, err := h.HandleStart(context.Background(), &Command{Name: "start"}, msg)
	if err != nil {
		t.Fatalf("HandleStart() error: %v", err)
	}
	if reply == "" {
		t.Error("expected opening prompt")
	}

	sess, err := store.Get("@alice:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.StageGreeting {
		t.Errorf("stage = %q, want %q", sess.Stage, session.StageGreeting)
	}
}

func TestHandleStatus(t *testing.T) {
	h, store := newTestHandlers(t)
	msg := matrix.InboundMessage{UserID: "@bob:test", ChatID: "!room:test"}

	reply, err := h.HandleStatus(context.Background(), &Command{Name: "status"}, msg)
	if err != nil {
		t.Fatalf("HandleStatus() error: %v", err)
	}
	if !strings.Contains(reply, "No active conversation") {
		t.Errorf("reply = %q, want no-session message", reply)
	}

	sess, _, err := store.GetOrCreate("@bob:test", "!room:test", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	sess.Name = "Bob"
	sess.Stage = session.StageFarewell
	store.Save(sess)

	reply, err = h.HandleStatus(context.Background(), &Command{Name: "status"}, msg)
	if err != nil {
		t.Fatalf("HandleStatus() error: %v", err)
	}
	if !strings.Contains(reply, "farewell") || !strings.Contains(reply, "Bob") {
		t.Errorf("reply = %q, want stage and name", reply)
	}
}

func TestHandleCleanup(t *testing.T) {
	h, store := newTestHandlers(t)
	msg := matrix.InboundMessage{UserID: "@carol:test", ChatID: "!room:test"}

	store.GetOrCreate("@stale:test", "!room:test", time.Now().Add(-48*time.Hour))
	store.GetOrCreate("@fresh:test", "!room:test", time.Now())

	reply, err := h.HandleCleanup(context.Background(), &Command{Name: "cleanup"}, msg)
	if err != nil {
		t.Fatalf("HandleCleanup() error: %v", err)
	}
	if !strings.Contains(reply, "1 idle session") {
		t.Errorf("reply = %q, want one eviction", reply)
	}
	if _, err := store.Get("@fresh:test"); err != nil {
		t.Errorf("fresh session should survive, got %v", err)
	}
}

func TestHandleHelpAndVersion(t *testing.T) {
	h, _ := newTestHandlers(t)
	msg := matrix.InboundMessage{UserID: "@dave:test"}

	help, err := h.HandleHelp(context.Background(), &Command{Name: "help"}, msg)
	if err != nil {
		t.Fatalf("HandleHelp() error: %v", err)
	}
	for _, cmd := range []string{"start", "status", "cleanup", "version", "help"} {
		if !strings.Contains(help, cmd) {
			t.Errorf("help text missing %q", cmd)
		}
	}

	ver, err := h.HandleVersion(context.Background(), &Command{Name: "version"}, msg)
	if err != nil {
		t.Fatalf("HandleVersion() error: %v", err)
	}
	if !strings.Contains(ver, "Cozmo") {
		t.Errorf("version reply = %q", ver)
	}
}

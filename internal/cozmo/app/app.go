// Package app assembles Cozmo: session store, dialogue engine, idle
// reaper, Matrix transport, and slash commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cozmobot/cozmo/common/trace"
	"github.com/cozmobot/cozmo/internal/cozmo/commands"
	"github.com/cozmobot/cozmo/internal/cozmo/dialogue"
	"github.com/cozmobot/cozmo/internal/cozmo/matrix"
	"github.com/cozmobot/cozmo/internal/cozmo/script"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
	"github.com/cozmobot/cozmo/internal/cozmo/store"
)

// Config holds application configuration.
type Config struct {
	// DatabasePath selects the SQLite-backed session store. When empty,
	// sessions live in memory and are lost on restart.
	DatabasePath string

	// ScriptPath selects a YAML dialogue script. When empty, the built-in
	// default script is used.
	ScriptPath string

	Matrix matrix.Config

	// MaxMessageLength caps inbound utterances (default 1000 characters).
	MaxMessageLength int
	// MaxNameLength caps extracted names (default 50 characters).
	MaxNameLength int

	// CleanupInterval is the idle threshold for session eviction
	// (default 24h).
	CleanupInterval time.Duration
	// CleanupEveryN triggers an extra sweep after every Nth processed
	// message. Zero disables the counted trigger.
	CleanupEveryN int
	// CleanupSchedule is an optional cron expression replacing the
	// fixed-interval sweep cadence.
	CleanupSchedule string

	// HTTPAddr is the TCP address for the optional health/status HTTP
	// server (e.g. ":8080"). Empty disables it.
	HTTPAddr string
}

// App is the assembled Cozmo application.
type App struct {
	config       *Config
	db           *store.Store // nil when running in-memory
	sessions     session.Store
	engine       *dialogue.Engine
	reaper       *session.Reaper
	matrix       *matrix.Client
	router       *commands.Router
	healthServer *HealthServer
}

// New creates a Cozmo application from config.
func New(config *Config) (*App, error) {
	// Session store: SQLite when a database path is configured, otherwise
	// a process-local map.
	var (
		db       *store.Store
		sessions session.Store
	)
	if config.DatabasePath != "" {
		slog.Info("opening database", "path", config.DatabasePath)
		var err error
		db, err = store.New(config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		sessions = store.NewSessions(db)
	} else {
		slog.Info("using in-memory session store (sessions reset on restart)")
		sessions = session.NewMemoryStore()
	}

	// Dialogue script: external YAML when configured, built-in otherwise.
	var sc *script.Script
	if config.ScriptPath != "" {
		var err error
		sc, err = script.Load(config.ScriptPath)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, fmt.Errorf("load dialogue script: %w", err)
		}
		slog.Info("dialogue script loaded", "path", config.ScriptPath)
	} else {
		sc = script.Default()
	}

	locks := session.NewLocks()

	engine, err := dialogue.NewEngine(sessions, locks, sc, dialogue.Config{
		MaxMessageLength: config.MaxMessageLength,
		MaxNameLength:    config.MaxNameLength,
	}, slog.Default())
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("initialize dialogue engine: %w", err)
	}

	reaper := session.NewReaper(sessions, locks, session.ReaperConfig{
		Threshold:      config.CleanupInterval,
		EveryNMessages: config.CleanupEveryN,
		Schedule:       config.CleanupSchedule,
	}, slog.Default())
	engine.SetOnProcessed(reaper.MessageProcessed)

	// Matrix client; share the database so the sync position survives
	// restarts.
	matrixCfg := config.Matrix
	if db != nil {
		matrixCfg.DB = db.DB()
	}
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("initialize Matrix client: %w", err)
	}

	handlers := commands.NewHandlers(commands.HandlersConfig{
		Engine: engine,
		Store:  sessions,
		Reaper: reaper,
	})
	router := commands.NewRouter("/cozmo")
	router.Register("help", handlers.HandleHelp)
	router.Register("version", handlers.HandleVersion)
	router.Register("start", handlers.HandleStart)
	router.Register("status", handlers.HandleStatus)
	router.Register("cleanup", handlers.HandleCleanup)

	var healthServer *HealthServer
	if config.HTTPAddr != "" {
		healthServer = NewHealthServer(config.HTTPAddr, sessions)
		slog.Info("health server configured", "addr", config.HTTPAddr)
	}

	return &App{
		config:       config,
		db:           db,
		sessions:     sessions,
		engine:       engine,
		reaper:       reaper,
		matrix:       matrixClient,
		router:       router,
		healthServer: healthServer,
	}, nil
}

// Run starts the application and blocks until an interrupt signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("start Matrix client: %w", err)
	}

	go a.reaper.Run(ctx)

	// Announce availability in the configured rooms. Rooms joined later by
	// invite get no announcement; the opening prompt covers those.
	for _, room := range a.config.Matrix.Rooms {
		if err := a.matrix.SendNotice(room, "Cozmo is online. Say 'hi' to chat, or /cozmo help for commands."); err != nil {
			slog.Warn("startup notice failed", "room", room, "err", err)
		}
	}

	slog.Info("Cozmo is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	a.reaper.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	if err := a.sessions.Close(); err != nil {
		slog.Warn("closing session store", "err", err)
	}
}

// handleMessage processes one inbound Matrix message: slash commands go to
// the router, everything else to the dialogue engine. The reply is composed
// before any transport call, and transport failures never touch session
// state.
func (a *App) handleMessage(ctx context.Context, msg matrix.InboundMessage) {
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	reply, err := a.router.Route(ctx, msg.Text, msg)
	switch {
	case err == nil:
		// Command handled.
	case errors.Is(err, commands.ErrNotACommand):
		// Typing indicator while the reply is prepared. Failures here are
		// cosmetic and not worth logging above Debug.
		if err := a.matrix.SetTyping(msg.ChatID, true, 5*time.Second); err != nil {
			slog.Debug("typing indicator failed", "room", msg.ChatID, "err", err)
		}
		reply, err = a.engine.HandleMessage(ctx, msg.UserID, msg.ChatID, msg.Text)
		if err := a.matrix.SetTyping(msg.ChatID, false, 0); err != nil {
			slog.Debug("typing indicator failed", "room", msg.ChatID, "err", err)
		}
		if errors.Is(err, dialogue.ErrInvalidInput) {
			// Out-of-contract input is dropped without a reply and
			// without touching the session.
			slog.Debug("dropped invalid inbound message", "user_id", msg.UserID, "len", len(msg.Text), "trace_id", traceID)
			return
		}
		if err != nil {
			slog.Error("dialogue engine failed", "user_id", msg.UserID, "err", err, "trace_id", traceID)
			return
		}
	default:
		reply = fmt.Sprintf("Error: %s", err)
	}

	if reply == "" {
		return
	}
	if err := a.matrix.SendText(msg.ChatID, reply); err != nil {
		// Delivery is the transport's concern; the session has already
		// moved on.
		slog.Error("failed to send reply", "room", msg.ChatID, "err", err, "trace_id", traceID)
	}
}

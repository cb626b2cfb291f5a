package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultThreshold is the idle duration after which a session is evicted.
const DefaultThreshold = 24 * time.Hour

// ReaperConfig configures the idle reaper.
type ReaperConfig struct {
	// Threshold is the inactivity duration after which a session is
	// considered idle. Defaults to DefaultThreshold when zero.
	Threshold time.Duration

	// SweepInterval is the cadence of the periodic sweep. Defaults to
	// Threshold/2 when zero. Ignored when Schedule is set.
	SweepInterval time.Duration

	// EveryNMessages additionally triggers a sweep after every Nth
	// processed message. Zero disables the counted trigger.
	EveryNMessages int

	// Schedule is an optional cron expression (e.g. "0 3 * * *") that
	// replaces the fixed-interval ticker for the periodic sweep.
	Schedule string
}

// Reaper periodically evicts sessions that have been inactive past the
// configured threshold. It runs independently of the per-message path and
// coordinates with it through the shared per-user Locks, so an eviction can
// never race an in-flight engine transition for the same user.
type Reaper struct {
	store  Store
	locks  *Locks
	config ReaperConfig
	logger *slog.Logger

	countMu  sync.Mutex
	msgCount int

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewReaper creates a Reaper over the given store and lock set.
// If logger is nil, the default slog logger is used.
func NewReaper(store Store, locks *Locks, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Threshold / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:  store,
		locks:  locks,
		config: cfg,
		logger: logger,
	}
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled or
// Stop is called. Call this in a goroutine.
//
// When a cron Schedule is configured the sweeps fire on that schedule;
// otherwise a fixed-interval ticker is used.
func (r *Reaper) Run(ctx context.Context) {
	r.stopMu.Lock()
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.stopMu.Unlock()

	if r.config.Schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(r.config.Schedule, func() {
			r.Sweep(time.Now())
		}); err != nil {
			r.logger.Error("reaper: invalid cron schedule; falling back to interval sweeps",
				"schedule", r.config.Schedule, "err", err)
		} else {
			r.logger.Info("reaper: cron schedule active", "schedule", r.config.Schedule)
			c.Start()
			defer c.Stop()
			select {
			case <-ctx.Done():
			case <-stopCh:
			}
			return
		}
	}

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Stop signals the runner to stop. Safe to call multiple times.
func (r *Reaper) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	if r.stopCh != nil {
		select {
		case <-r.stopCh:
			// Already closed.
		default:
			close(r.stopCh)
		}
	}
}

// MessageProcessed implements the counted trigger: it increments the
// processed-message counter and runs a sweep every EveryNMessages calls.
// Call it after the per-user lock for the message has been released.
func (r *Reaper) MessageProcessed() {
	if r.config.EveryNMessages <= 0 {
		return
	}

	r.countMu.Lock()
	r.msgCount++
	due := r.msgCount >= r.config.EveryNMessages
	if due {
		r.msgCount = 0
	}
	r.countMu.Unlock()

	if due {
		r.Sweep(time.Now())
	}
}

// Sweep scans the store for idle sessions and evicts them. Each eviction
// re-checks idleness under the user's lock (EvictIfIdle), so a session that
// received a message between the scan and the delete survives. Returns the
// number of sessions evicted.
func (r *Reaper) Sweep(now time.Time) int {
	idle, err := r.store.ScanIdle(r.config.Threshold, now)
	if err != nil {
		r.logger.Error("reaper: idle scan failed", "err", err)
		return 0
	}
	if len(idle) == 0 {
		return 0
	}

	evicted := 0
	for _, userID := range idle {
		unlock := r.locks.Lock(userID)
		ok, err := r.store.EvictIfIdle(userID, r.config.Threshold, now)
		unlock()
		if err != nil {
			r.logger.Error("reaper: eviction failed", "user_id", userID, "err", err)
			continue
		}
		if ok {
			evicted++
		}
	}

	if evicted > 0 {
		r.logger.Info("reaper: evicted idle sessions",
			"evicted", evicted,
			"scanned", len(idle),
			"threshold", r.config.Threshold.String(),
		)
	}
	return evicted
}

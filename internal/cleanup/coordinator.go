package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/pkg/storage"
)

// ActiveOwners reports the owners that currently have a transfer executing.
// Their artifact directories are off limits to the orphan sweep.
type ActiveOwners interface {
	ActiveOwners(ctx context.Context) map[int64]struct{}
}

// OwnersFunc adapts a function to the ActiveOwners interface.
type OwnersFunc func(ctx context.Context) map[int64]struct{}

func (f OwnersFunc) ActiveOwners(ctx context.Context) map[int64]struct{} { return f(ctx) }

// Config controls cleanup delays. Premium owners get their artifacts
// reclaimed quickly; free owners get a longer grace to fetch them. The
// safety ceiling bounds how long anything survives regardless of tier.
type Config struct {
	PremiumDelay  time.Duration
	FreeDelay     time.Duration
	SafetyCeiling time.Duration
	SweepInterval time.Duration
}

type scheduled struct {
	rec models.CleanupRecord
	due time.Time
}

// Coordinator consumes cleanup records from the transfer queue and deletes
// artifacts after a tier-dependent delay. A periodic orphan sweep catches
// anything a crash or missed record left behind.
type Coordinator struct {
	store  *storage.LocalStorage
	owners ActiveOwners
	logger *zap.Logger
	cfg    Config
	now    func() time.Time

	mu      sync.Mutex
	pending []scheduled
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(store *storage.LocalStorage, owners ActiveOwners, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PremiumDelay <= 0 {
		cfg.PremiumDelay = 30 * time.Second
	}
	if cfg.FreeDelay <= 0 {
		cfg.FreeDelay = 5 * time.Minute
	}
	if cfg.SafetyCeiling <= 0 {
		cfg.SafetyCeiling = 45 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Coordinator{
		store:  store,
		owners: owners,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Schedule registers a record for delayed deletion. Records with no paths
// still pass through so the flow stays uniform; they are dropped here.
// Never blocks; safe to call from the queue scheduler.
func (c *Coordinator) Schedule(rec models.CleanupRecord) {
	if len(rec.Paths) == 0 {
		return
	}
	due := rec.EmittedAt.Add(c.delayFor(rec.OwnerTier))
	c.mu.Lock()
	c.pending = append(c.pending, scheduled{rec: rec, due: due})
	c.mu.Unlock()
	c.logger.Sugar().Debugw("cleanup scheduled",
		"task_id", rec.TaskID, "owner", rec.OwnerID, "tier", rec.OwnerTier, "due", due)
}

func (c *Coordinator) delayFor(tier models.Tier) time.Duration {
	if tier == models.TierPremium {
		return c.cfg.PremiumDelay
	}
	return c.cfg.FreeDelay
}

// Start launches the sweep loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	go c.loop(loopCtx)
	c.logger.Sugar().Infow("cleanup coordinator started",
		"premium_delay", c.cfg.PremiumDelay, "free_delay", c.cfg.FreeDelay,
		"safety_ceiling", c.cfg.SafetyCeiling)
}

// Stop halts the sweep loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.mu.Unlock()
	<-c.done
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flushDue(ctx)
			c.sweepOrphans(ctx)
		}
	}
}

// flushDue deletes artifacts whose tier delay has elapsed.
func (c *Coordinator) flushDue(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	var due []scheduled
	remaining := c.pending[:0]
	for _, item := range c.pending {
		if item.due.After(now) {
			remaining = append(remaining, item)
			continue
		}
		due = append(due, item)
	}
	c.pending = remaining
	c.mu.Unlock()

	for _, item := range due {
		for _, path := range item.rec.Paths {
			if err := c.store.Delete(path); err != nil {
				c.logger.Sugar().Warnw("artifact delete failed",
					"task_id", item.rec.TaskID, "path", path, "error", err)
				continue
			}
		}
		c.logger.Sugar().Infow("artifacts reclaimed",
			"task_id", item.rec.TaskID, "owner", item.rec.OwnerID, "paths", len(item.rec.Paths))
	}
}

// sweepOrphans enforces the safety ceiling: anything on disk older than the
// ceiling is deleted, except inside directories of owners with an active
// transfer.
func (c *Coordinator) sweepOrphans(ctx context.Context) {
	var protected map[int64]struct{}
	if c.owners != nil {
		protected = c.owners.ActiveOwners(ctx)
	}
	deleted, err := c.store.CleanupOlderThan(c.cfg.SafetyCeiling, protected)
	if err != nil {
		c.logger.Sugar().Warnw("orphan sweep failed", "error", err)
		return
	}
	if len(deleted) > 0 {
		c.logger.Sugar().Infow("orphan sweep reclaimed artifacts", "count", len(deleted))
	}
}

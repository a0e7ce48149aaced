package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oskarpl/media-relay/internal/platform"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
)

// CredentialStore supplies persisted credential strings for session creation.
type CredentialStore interface {
	LoadSession(ctx context.Context, userID int64) (string, error)
	DeleteSession(ctx context.Context, userID int64) error
}

// Handle wraps one authenticated platform connection. All mutable fields are
// guarded by the owning pool's lock.
type Handle struct {
	userID      int64
	conn        platform.Conn
	createdAt   time.Time
	lastUsed    time.Time
	activeTasks int
	alive       bool
}

// UserID returns the owning user.
func (h *Handle) UserID() int64 { return h.userID }

// Conn exposes the platform connection for I/O calls. The queue guarantees
// at most one task drives it at a time.
func (h *Handle) Conn() platform.Conn { return h.conn }

// Config bounds the pool.
type Config struct {
	Capacity      int
	IdleTimeout   time.Duration
	EvictionGrace time.Duration
	SweepInterval time.Duration
}

// Pool owns a capacity-limited set of authenticated platform sessions, one
// per user. A handle serving an active transfer is never evicted; freeing a
// slot prefers the longest-idle handle past the eviction grace period.
type Pool struct {
	client platform.Client
	creds  CredentialStore
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	handles map[int64]*Handle
	now     func() time.Time
}

// NewPool constructs a pool. Zero config fields fall back to safe defaults.
func NewPool(client platform.Client, creds CredentialStore, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 3
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.EvictionGrace <= 0 {
		cfg.EvictionGrace = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Pool{
		client:  client,
		creds:   creds,
		logger:  logger,
		cfg:     cfg,
		handles: make(map[int64]*Handle),
		now:     time.Now,
	}
}

// Acquire returns a live handle for the user, creating one when a slot is
// available. Outcomes map onto the closed error set: ErrSlotsFull when every
// handle is mid-transfer, ErrInvalidSession when the credential was revoked
// upstream, ErrCreationFailed on infrastructure failure. Creation failures
// are never retried here; the caller decides.
func (p *Pool) Acquire(ctx context.Context, userID int64) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[userID]; ok {
		if !h.conn.Authorized(ctx) {
			p.logger.Sugar().Warnw("session revoked upstream, dropping handle", "user_id", userID)
			p.removeLocked(ctx, h)
			return nil, appErrors.ErrInvalidSession
		}
		h.lastUsed = p.now()
		h.activeTasks++
		return h, nil
	}

	if len(p.handles) >= p.cfg.Capacity {
		victim := p.evictableLocked()
		if victim == nil {
			p.logger.Sugar().Warnw("all session slots busy",
				"capacity", p.cfg.Capacity, "user_id", userID)
			return nil, appErrors.ErrSlotsFull
		}
		p.logger.Sugar().Infow("evicting idle session to free a slot",
			"evicted_user", victim.userID, "idle", p.now().Sub(victim.lastUsed))
		p.removeLocked(ctx, victim)
	}

	return p.createLocked(ctx, userID)
}

// Release marks the handle's current task as finished. The session stays
// warm until the idle sweep reclaims it.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.activeTasks > 0 {
		h.activeTasks--
	}
	h.lastUsed = p.now()
}

// RevokeUser disconnects a user's session and forgets the stored credential.
// Used on explicit logout and on re-authentication prompts.
func (p *Pool) RevokeUser(ctx context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[userID]; ok {
		p.removeLocked(ctx, h)
	}
}

// Sweep revokes every handle idle past the timeout with no active tasks.
// Returns the number of sessions reclaimed.
func (p *Pool) Sweep(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	reclaimed := 0
	for _, h := range p.handles {
		if h.activeTasks != 0 {
			continue
		}
		idle := p.now().Sub(h.lastUsed)
		if idle < p.cfg.IdleTimeout {
			continue
		}
		p.logger.Sugar().Infow("reclaiming idle session", "user_id", h.userID, "idle", idle)
		p.closeLocked(h)
		delete(p.handles, h.userID)
		reclaimed++
	}
	return reclaimed
}

// StartSweeper boots the periodic idle sweep until ctx is cancelled.
func (p *Pool) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.Sweep(ctx); n > 0 {
					p.logger.Sugar().Infow("idle sweep complete", "reclaimed", n, "live", p.Size())
				}
			}
		}
	}()
}

// Size returns the number of live handles.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Capacity returns the configured slot count.
func (p *Pool) Capacity() int { return p.cfg.Capacity }

// Shutdown disconnects every session.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.handles {
		p.closeLocked(h)
	}
	p.handles = make(map[int64]*Handle)
	p.logger.Sugar().Infow("all sessions disconnected")
}

// evictableLocked picks the longest-idle handle that has no active tasks and
// has been idle for at least the grace period. Busy handles are untouchable.
func (p *Pool) evictableLocked() *Handle {
	var victim *Handle
	now := p.now()
	for _, h := range p.handles {
		if h.activeTasks != 0 {
			continue
		}
		if now.Sub(h.lastUsed) < p.cfg.EvictionGrace {
			continue
		}
		if victim == nil || h.lastUsed.Before(victim.lastUsed) {
			victim = h
		}
	}
	return victim
}

func (p *Pool) createLocked(ctx context.Context, userID int64) (*Handle, error) {
	credential, err := p.creds.LoadSession(ctx, userID)
	if err != nil {
		// Store failure says nothing about the credential itself; surface it
		// as a creation failure so the caller's bounded retry applies.
		p.logger.Sugar().Errorw("credential store lookup failed", "user_id", userID, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrCreationFailed.Code, appErrors.ErrCreationFailed.Status, appErrors.ErrCreationFailed.Message)
	}
	if credential == "" {
		p.logger.Sugar().Warnw("no stored credential for user", "user_id", userID)
		return nil, appErrors.ErrInvalidSession
	}

	conn, err := p.client.Authenticate(ctx, userID, credential)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthorized) {
			_ = p.creds.DeleteSession(ctx, userID)
			p.logger.Sugar().Warnw("stored credential no longer authorized", "user_id", userID)
			return nil, appErrors.ErrInvalidSession
		}
		p.logger.Sugar().Errorw("failed to create session", "user_id", userID, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrCreationFailed.Code, appErrors.ErrCreationFailed.Status, appErrors.ErrCreationFailed.Message)
	}

	h := &Handle{
		userID:      userID,
		conn:        conn,
		createdAt:   p.now(),
		lastUsed:    p.now(),
		activeTasks: 1,
		alive:       true,
	}
	p.handles[userID] = h
	p.logger.Sugar().Infow("session created",
		"user_id", userID, "live", len(p.handles), "capacity", p.cfg.Capacity)
	return h, nil
}

func (p *Pool) removeLocked(ctx context.Context, h *Handle) {
	p.closeLocked(h)
	delete(p.handles, h.userID)
}

func (p *Pool) closeLocked(h *Handle) {
	if !h.alive {
		return
	}
	h.alive = false
	if err := h.conn.Close(); err != nil {
		p.logger.Sugar().Warnw("error disconnecting session", "user_id", h.userID, "error", err)
	}
}

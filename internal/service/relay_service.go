package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"path/filepath"

	"go.uber.org/zap"

	"github.com/oskarpl/media-relay/internal/events"
	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/internal/transfer"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
	"github.com/oskarpl/media-relay/pkg/storage"
)

type accountRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Account, error)
	Upsert(ctx context.Context, account *models.Account) error
	IncrementDownloads(ctx context.Context, id int64) error
}

type transferQueue interface {
	Submit(ctx context.Context, req transfer.SubmitRequest) (string, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) (int, error)
	Status(ctx context.Context, id string) (models.TransferTask, int, error)
	Snapshot(ctx context.Context) (models.QueueSnapshot, error)
}

type sessionRevoker interface {
	RevokeUser(ctx context.Context, userID int64)
}

type credentialStore interface {
	DeleteSession(ctx context.Context, userID int64) error
}

// RelayLimits carries the per-tier admission limits.
type RelayLimits struct {
	FreeMaxBytes    int64
	PremiumMaxBytes int64
}

// SubmitTransferRequest is the service-level submission payload.
type SubmitTransferRequest struct {
	OwnerID   int64  `json:"ownerId" binding:"required"`
	Username  string `json:"username"`
	SourceRef string `json:"sourceRef" binding:"required"`
	DestRef   string `json:"destRef" binding:"required"`
	Filename  string `json:"filename" binding:"required"`
	SizeBytes int64  `json:"sizeBytes"`
	GroupID   string `json:"groupId"`
	GroupSeq  int    `json:"groupSeq"`
}

// SubmitTransferResponse reports the admitted task and its queue position.
type SubmitTransferResponse struct {
	TaskID   string `json:"taskId"`
	Position int    `json:"position"`
	Pending  int    `json:"pending"`
}

// RelayService orchestrates transfer admission on top of the queue, the
// session pool and the account store.
type RelayService struct {
	queue    transferQueue
	accounts accountRepository
	sessions sessionRevoker
	creds    credentialStore
	store    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	limits   RelayLimits
	logger   *zap.Logger
}

// NewRelayService constructs a RelayService instance.
func NewRelayService(queue transferQueue, accounts accountRepository, sessions sessionRevoker, creds credentialStore, store *storage.LocalStorage, signer *storage.SignedURLSigner, limits RelayLimits, logger *zap.Logger) *RelayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.FreeMaxBytes <= 0 {
		limits.FreeMaxBytes = int64(2000) * 1024 * 1024
	}
	if limits.PremiumMaxBytes <= 0 {
		limits.PremiumMaxBytes = 2 * limits.FreeMaxBytes
	}
	return &RelayService{
		queue:    queue,
		accounts: accounts,
		sessions: sessions,
		creds:    creds,
		store:    store,
		signer:   signer,
		limits:   limits,
		logger:   logger,
	}
}

// Submit validates the request against the owner's tier and hands it to the
// queue. Owners unknown to the account store are registered as free tier.
func (s *RelayService) Submit(ctx context.Context, req SubmitTransferRequest) (*SubmitTransferResponse, error) {
	tier, err := s.resolveTier(ctx, req.OwnerID, req.Username)
	if err != nil {
		return nil, err
	}

	if limit := s.limitFor(tier); req.SizeBytes > limit {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge,
			fmt.Sprintf("file exceeds the %d MiB limit for %s accounts", limit/(1024*1024), tier))
	}

	size := req.SizeBytes
	if size <= 0 {
		size = models.SizeUnknown
	}
	taskID, err := s.queue.Submit(ctx, transfer.SubmitRequest{
		OwnerID:   req.OwnerID,
		OwnerTier: tier,
		SourceRef: req.SourceRef,
		DestRef:   req.DestRef,
		Filename:  req.Filename,
		SizeBytes: size,
		GroupID:   req.GroupID,
		GroupSeq:  req.GroupSeq,
	})
	if err != nil {
		return nil, err
	}

	_, position, err := s.queue.Status(ctx, taskID)
	if err != nil {
		position = 0
	}
	snap, err := s.queue.Snapshot(ctx)
	if err != nil {
		snap = models.QueueSnapshot{}
	}
	return &SubmitTransferResponse{TaskID: taskID, Position: position, Pending: snap.Pending}, nil
}

// Status returns the task state and queue position.
func (s *RelayService) Status(ctx context.Context, taskID string) (models.TransferTask, int, error) {
	return s.queue.Status(ctx, taskID)
}

// Overview summarises queue and pool occupancy.
func (s *RelayService) Overview(ctx context.Context) (models.QueueSnapshot, error) {
	return s.queue.Snapshot(ctx)
}

// Cancel aborts one task.
func (s *RelayService) Cancel(ctx context.Context, taskID string) error {
	return s.queue.Cancel(ctx, taskID)
}

// CancelAll aborts every pending and active task. Admin only.
func (s *RelayService) CancelAll(ctx context.Context) (int, error) {
	return s.queue.CancelAll(ctx)
}

// ArtifactToken issues a short-lived download token for a completed task's
// artifact. The token outlives neither its TTL nor the cleanup window.
func (s *RelayService) ArtifactToken(ctx context.Context, taskID string) (string, time.Time, error) {
	task, _, err := s.queue.Status(ctx, taskID)
	if err != nil {
		return "", time.Time{}, err
	}
	if task.State != models.TaskCompleted {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrConflict, "transfer has not completed")
	}
	path := s.store.ArtifactPath(task.OwnerID, task.Filename)
	token, expiresAt, err := s.signer.Generate(task.ID, path)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// ResolveArtifact validates a download token and returns the artifact path
// and filename for streaming.
func (s *RelayService) ResolveArtifact(token string) (string, string, error) {
	_, path, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.store.Open(path)
	if err != nil {
		return "", "", appErrors.Clone(appErrors.ErrNotFound, "artifact no longer available")
	}
	file.Close() //nolint:errcheck
	return path, filepath.Base(path), nil
}

// Logout revokes the user's pooled session and deletes the stored
// credential so the next acquire surfaces INVALID_SESSION.
func (s *RelayService) Logout(ctx context.Context, userID int64) error {
	s.sessions.RevokeUser(ctx, userID)
	if err := s.creds.DeleteSession(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete stored session")
	}
	s.logger.Sugar().Infow("user logged out", "user_id", userID)
	return nil
}

func (s *RelayService) resolveTier(ctx context.Context, ownerID int64, username string) (models.Tier, error) {
	account, err := s.accounts.FindByID(ctx, ownerID)
	if err == nil {
		return account.Tier, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	// First contact registers a free account, mirroring bot onboarding.
	fresh := &models.Account{ID: ownerID, Username: username, Tier: models.TierFree}
	if err := s.accounts.Upsert(ctx, fresh); err != nil {
		s.logger.Sugar().Warnw("account registration failed", "owner", ownerID, "error", err)
	}
	return models.TierFree, nil
}

func (s *RelayService) limitFor(tier models.Tier) int64 {
	if tier == models.TierPremium {
		return s.limits.PremiumMaxBytes
	}
	return s.limits.FreeMaxBytes
}

// StatusRecorder decorates an event publisher to keep metrics and account
// counters in step with terminal task states.
type StatusRecorder struct {
	next     events.Publisher
	metrics  *MetricsService
	accounts accountRepository
	logger   *zap.Logger
}

// NewStatusRecorder wires the decorator. next may be nil.
func NewStatusRecorder(next events.Publisher, metrics *MetricsService, accounts accountRepository, logger *zap.Logger) *StatusRecorder {
	if next == nil {
		next = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusRecorder{next: next, metrics: metrics, accounts: accounts, logger: logger}
}

// PublishStatus records terminal outcomes before delegating.
func (r *StatusRecorder) PublishStatus(ctx context.Context, ev events.StatusEvent) error {
	switch ev.State {
	case string(models.TaskCompleted):
		r.metrics.RecordTransferOutcome(ev.State, time.Duration(ev.DurationMs)*time.Millisecond, ev.SizeBytes)
		if r.accounts != nil {
			if err := r.accounts.IncrementDownloads(ctx, ev.OwnerID); err != nil {
				r.logger.Sugar().Warnw("download counter update failed", "owner", ev.OwnerID, "error", err)
			}
		}
	case string(models.TaskFailed), string(models.TaskCancelled):
		r.metrics.RecordTransferOutcome(ev.State, time.Duration(ev.DurationMs)*time.Millisecond, 0)
	}
	return r.next.PublishStatus(ctx, ev)
}

// Close closes the wrapped publisher.
func (r *StatusRecorder) Close() error {
	return r.next.Close()
}

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/internal/platform"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
	"github.com/oskarpl/media-relay/pkg/storage"
)

// Update carries a non-terminal state transition from a running task back to
// the scheduler, which owns the canonical task record.
type Update struct {
	State       models.TaskState
	SizeBytes   int64
	Connections int
}

// Runner executes one admitted task against an acquired connection.
type Runner interface {
	Run(ctx context.Context, task models.TransferTask, conn platform.Conn, report func(Update)) ([]string, error)
}

// ExecutorConfig bounds a single task's execution.
type ExecutorConfig struct {
	ChunkSize       int64
	FreeMaxBytes    int64
	PremiumMaxBytes int64
}

// Executor drives the download -> upload cycle for one task: probe the size,
// pick a connection tier, pull chunks to a local artifact, push the artifact
// to the destination. Cancellation is checked at every chunk boundary.
type Executor struct {
	store  *storage.LocalStorage
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor constructs an executor.
func NewExecutor(store *storage.LocalStorage, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	return &Executor{store: store, cfg: cfg, logger: logger}
}

// Run returns the surviving artifact paths and a terminal error, nil on
// success. Cancelled and deadline-exceeded runs delete their partial artifact
// synchronously before returning; other failures hand the partial back to the
// caller for tier-delayed cleanup. Group members delete their artifact as
// soon as the upload succeeds so peak disk usage stays at one item.
func (e *Executor) Run(ctx context.Context, task models.TransferTask, conn platform.Conn, report func(Update)) ([]string, error) {
	size := task.SizeBytes
	if size < 0 {
		probed, err := conn.ProbeSize(ctx, task.SourceRef)
		switch {
		case err == nil:
			size = probed
		case errors.Is(err, platform.ErrSizeUnknown):
			size = models.SizeUnknown
		default:
			return nil, e.classify(ctx, err, "probe size")
		}
	}

	if size >= 0 {
		if limit := e.maxBytesFor(task.OwnerTier); limit > 0 && size > limit {
			return nil, appErrors.Clone(appErrors.ErrFileTooLarge,
				fmt.Sprintf("file is %d bytes, tier limit is %d", size, limit))
		}
	}

	connections := ConnectionsForSize(size)
	report(Update{State: models.TaskTransferring, SizeBytes: size, Connections: connections})

	path, err := e.download(ctx, task, conn, size, connections)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCancelled) || appErrors.Is(err, appErrors.ErrDeadlineExceeded) {
			e.discard(path)
			return nil, err
		}
		return pathsOf(path), err
	}

	report(Update{State: models.TaskUploading})

	if err := e.upload(ctx, task, conn, path, connections); err != nil {
		if appErrors.Is(err, appErrors.ErrCancelled) || appErrors.Is(err, appErrors.ErrDeadlineExceeded) {
			e.discard(path)
			return nil, err
		}
		return pathsOf(path), err
	}

	if task.GroupID != "" {
		// Delete now, before the next group member starts, so a group of any
		// length never holds more than one item's worth of disk.
		e.discard(path)
		return nil, nil
	}
	return pathsOf(path), nil
}

func (e *Executor) download(ctx context.Context, task models.TransferTask, conn platform.Conn, size int64, connections int) (string, error) {
	file, path, err := e.store.Create(task.OwnerID, task.Filename)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrTransferFatal.Code, appErrors.ErrTransferFatal.Status, "create artifact")
	}
	defer file.Close() //nolint:errcheck

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return path, e.classify(ctx, ctx.Err(), "download")
		default:
		}

		length := e.cfg.ChunkSize
		if size >= 0 && size-offset < length {
			length = size - offset
		}
		if length <= 0 {
			break
		}

		chunk, err := conn.ReadChunk(ctx, task.SourceRef, offset, length, connections)
		if len(chunk) > 0 {
			if _, werr := file.Write(chunk); werr != nil {
				return path, appErrors.Wrap(werr, appErrors.ErrTransferFatal.Code, appErrors.ErrTransferFatal.Status, "write artifact")
			}
			offset += int64(len(chunk))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return path, e.classify(ctx, err, "download")
		}
	}

	if size >= 0 && offset != size {
		return path, appErrors.Clone(appErrors.ErrTransferFatal,
			fmt.Sprintf("size mismatch: expected %d bytes, got %d", size, offset))
	}
	return path, nil
}

func (e *Executor) upload(ctx context.Context, task models.TransferTask, conn platform.Conn, path string, connections int) error {
	select {
	case <-ctx.Done():
		return e.classify(ctx, ctx.Err(), "upload")
	default:
	}

	file, err := e.store.Open(path)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransferFatal.Code, appErrors.ErrTransferFatal.Status, "open artifact")
	}
	defer file.Close() //nolint:errcheck

	if err := conn.WriteChunks(ctx, task.DestRef, file, connections); err != nil {
		return e.classify(ctx, err, "upload")
	}
	return nil
}

// classify folds platform and context errors into the closed transfer
// taxonomy.
func (e *Executor) classify(ctx context.Context, err error, step string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return appErrors.Wrap(err, appErrors.ErrDeadlineExceeded.Code, appErrors.ErrDeadlineExceeded.Status, appErrors.ErrDeadlineExceeded.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrCancelled.Code, appErrors.ErrCancelled.Status, appErrors.ErrCancelled.Message)
	}
	if errors.Is(err, platform.ErrTransient) {
		return appErrors.Wrap(err, appErrors.ErrTransferTransient.Code, appErrors.ErrTransferTransient.Status, step+" hit a transient error")
	}
	if errors.Is(err, platform.ErrUnauthorized) {
		return appErrors.Wrap(err, appErrors.ErrInvalidSession.Code, appErrors.ErrInvalidSession.Status, appErrors.ErrInvalidSession.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrTransferFatal.Code, appErrors.ErrTransferFatal.Status, step+" failed")
}

func (e *Executor) discard(path string) {
	if path == "" {
		return
	}
	if err := e.store.Delete(path); err != nil {
		e.logger.Sugar().Warnw("failed to delete artifact", "path", path, "error", err)
	}
}

func (e *Executor) maxBytesFor(tier models.Tier) int64 {
	if tier == models.TierPremium {
		return e.cfg.PremiumMaxBytes
	}
	return e.cfg.FreeMaxBytes
}

func pathsOf(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

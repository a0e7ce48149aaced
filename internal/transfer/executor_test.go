package transfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/oskarpl/media-relay/internal/models"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
	"github.com/oskarpl/media-relay/pkg/storage"
)

// scriptedConn serves a fixed byte payload chunk by chunk and records what
// gets uploaded. It can cancel the run's context on the nth read to model a
// user cancelling mid-download.
type scriptedConn struct {
	mu        sync.Mutex
	data      []byte
	probeSize int64
	probeErr  error
	cancelAt  int
	cancel    context.CancelFunc
	uploaded  []byte
	uploadErr error
	reads     int
}

func (c *scriptedConn) Authorized(ctx context.Context) bool { return true }

func (c *scriptedConn) ProbeSize(ctx context.Context, sourceRef string) (int64, error) {
	if c.probeErr != nil {
		return 0, c.probeErr
	}
	return c.probeSize, nil
}

func (c *scriptedConn) ReadChunk(ctx context.Context, sourceRef string, offset, length int64, connections int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.cancel != nil && c.reads >= c.cancelAt {
		c.cancel()
	}
	if offset >= int64(len(c.data)) {
		return nil, io.EOF
	}
	end := offset + length
	if end > int64(len(c.data)) {
		end = int64(len(c.data))
	}
	chunk := c.data[offset:end]
	if end == int64(len(c.data)) {
		return chunk, io.EOF
	}
	return chunk, nil
}

func (c *scriptedConn) WriteChunks(ctx context.Context, destRef string, r io.Reader, connections int) error {
	if c.uploadErr != nil {
		return c.uploadErr
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.uploaded = buf
	c.mu.Unlock()
	return nil
}

func (c *scriptedConn) Close() error { return nil }

func newTestExecutor(t *testing.T, cfg ExecutorConfig) (*Executor, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	return NewExecutor(store, cfg, nil), store
}

func executorTask(size int64) models.TransferTask {
	return models.TransferTask{
		ID:        "task-1",
		OwnerID:   42,
		OwnerTier: models.TierFree,
		SourceRef: "src",
		DestRef:   "dst",
		Filename:  "clip.bin",
		SizeBytes: size,
	}
}

func collectUpdates(updates *[]Update) func(Update) {
	return func(u Update) { *updates = append(*updates, u) }
}

func TestExecutorRunCompletes(t *testing.T) {
	exec, store := newTestExecutor(t, ExecutorConfig{ChunkSize: 16})
	payload := bytes.Repeat([]byte("abcd"), 16)
	conn := &scriptedConn{data: payload}

	var updates []Update
	paths, err := exec.Run(context.Background(), executorTask(int64(len(payload))), conn, collectUpdates(&updates))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(paths) != 1 || paths[0] != store.ArtifactPath(42, "clip.bin") {
		t.Fatalf("unexpected surviving paths %v", paths)
	}
	got, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("artifact content differs from source")
	}
	if !bytes.Equal(conn.uploaded, payload) {
		t.Fatalf("uploaded content differs from source")
	}

	if len(updates) != 2 {
		t.Fatalf("expected transferring and uploading updates, got %v", updates)
	}
	if updates[0].State != models.TaskTransferring || updates[0].SizeBytes != int64(len(payload)) || updates[0].Connections != 8 {
		t.Fatalf("unexpected transferring update %+v", updates[0])
	}
	if updates[1].State != models.TaskUploading {
		t.Fatalf("unexpected second update %+v", updates[1])
	}
}

func TestExecutorCancelDeletesPartial(t *testing.T) {
	exec, store := newTestExecutor(t, ExecutorConfig{ChunkSize: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &scriptedConn{data: bytes.Repeat([]byte("x"), 64), cancelAt: 2, cancel: cancel}

	var updates []Update
	paths, err := exec.Run(ctx, executorTask(64), conn, collectUpdates(&updates))
	if !appErrors.Is(err, appErrors.ErrCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("cancelled run must not hand paths back, got %v", paths)
	}
	// The partial is gone by the time Run returns, not tier-delayed.
	if _, err := os.Stat(store.ArtifactPath(42, "clip.bin")); !os.IsNotExist(err) {
		t.Fatalf("partial artifact survived cancellation: %v", err)
	}
	if conn.uploaded != nil {
		t.Fatalf("cancelled run must not upload")
	}
}

func TestExecutorGroupArtifactDeletedAfterUpload(t *testing.T) {
	exec, store := newTestExecutor(t, ExecutorConfig{ChunkSize: 32})
	payload := bytes.Repeat([]byte("gr"), 24)
	conn := &scriptedConn{data: payload}

	task := executorTask(int64(len(payload)))
	task.GroupID = "album-1"
	task.GroupSeq = 0

	var updates []Update
	paths, err := exec.Run(context.Background(), task, conn, collectUpdates(&updates))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("group member must not leave paths for delayed cleanup, got %v", paths)
	}
	if !bytes.Equal(conn.uploaded, payload) {
		t.Fatalf("group artifact was not fully uploaded before deletion")
	}
	if _, err := os.Stat(store.ArtifactPath(42, "clip.bin")); !os.IsNotExist(err) {
		t.Fatalf("group artifact survived its upload: %v", err)
	}
}

func TestExecutorSizeMismatchIsFatal(t *testing.T) {
	exec, store := newTestExecutor(t, ExecutorConfig{ChunkSize: 64})
	conn := &scriptedConn{data: bytes.Repeat([]byte("y"), 40)}

	var updates []Update
	paths, err := exec.Run(context.Background(), executorTask(100), conn, collectUpdates(&updates))
	if !appErrors.Is(err, appErrors.ErrTransferFatal) {
		t.Fatalf("expected TRANSFER_FATAL on truncated source, got %v", err)
	}
	// Fatal failures hand the partial back so cleanup reclaims it on schedule.
	if len(paths) != 1 || paths[0] != store.ArtifactPath(42, "clip.bin") {
		t.Fatalf("expected partial path handed back, got %v", paths)
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Fatalf("partial should still exist for delayed cleanup: %v", err)
	}
	if conn.uploaded != nil {
		t.Fatalf("truncated download must not be uploaded")
	}
}

func TestExecutorProbesUnknownSize(t *testing.T) {
	exec, _ := newTestExecutor(t, ExecutorConfig{ChunkSize: 1 << 20})
	// Declared unknown; the probe answers 300 MiB, placing it in the 6-way
	// connection tier even though the served payload is tiny.
	conn := &scriptedConn{data: bytes.Repeat([]byte("p"), 128), probeSize: 300 * mib}

	var updates []Update
	task := executorTask(models.SizeUnknown)
	_, err := exec.Run(context.Background(), task, conn, collectUpdates(&updates))
	if !appErrors.Is(err, appErrors.ErrTransferFatal) {
		t.Fatalf("expected size mismatch against the probed size, got %v", err)
	}
	if len(updates) == 0 || updates[0].SizeBytes != 300*mib || updates[0].Connections != 6 {
		t.Fatalf("probe result not reflected in the transferring update: %+v", updates)
	}
}

func TestExecutorEnforcesTierLimit(t *testing.T) {
	exec, _ := newTestExecutor(t, ExecutorConfig{ChunkSize: 16, FreeMaxBytes: 50})
	conn := &scriptedConn{data: bytes.Repeat([]byte("z"), 64)}

	var updates []Update
	paths, err := exec.Run(context.Background(), executorTask(64), conn, collectUpdates(&updates))
	if !appErrors.Is(err, appErrors.ErrFileTooLarge) {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}
	if len(paths) != 0 || len(updates) != 0 {
		t.Fatalf("oversize task must be rejected before any transfer work")
	}
	if conn.reads != 0 {
		t.Fatalf("oversize task must not read from the source")
	}
}

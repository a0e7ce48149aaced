package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/pkg/storage"
)

type staticOwners map[int64]struct{}

func (o staticOwners) ActiveOwners(context.Context) map[int64]struct{} { return o }

func newTestCoordinator(t *testing.T, owners ActiveOwners, cfg Config) (*Coordinator, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	c := New(store, owners, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c, store
}

func writeArtifact(t *testing.T, store *storage.LocalStorage, owner int64, name string) string {
	t.Helper()
	file, path, err := store.Create(owner, name)
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	if _, err := file.WriteString("payload"); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	file.Close()
	return path
}

func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("artifact %s was never reclaimed", path)
}

func TestPremiumReclaimedBeforeFree(t *testing.T) {
	cfg := Config{
		PremiumDelay:  20 * time.Millisecond,
		FreeDelay:     10 * time.Second,
		SafetyCeiling: time.Hour,
		SweepInterval: 10 * time.Millisecond,
	}
	c, store := newTestCoordinator(t, staticOwners{}, cfg)

	premiumPath := writeArtifact(t, store, 1, "premium.bin")
	freePath := writeArtifact(t, store, 2, "free.bin")
	now := time.Now()
	c.Schedule(models.CleanupRecord{TaskID: "a", OwnerID: 1, OwnerTier: models.TierPremium, Paths: []string{premiumPath}, EmittedAt: now})
	c.Schedule(models.CleanupRecord{TaskID: "b", OwnerID: 2, OwnerTier: models.TierFree, Paths: []string{freePath}, EmittedAt: now})

	waitGone(t, premiumPath)
	if _, err := os.Stat(freePath); err != nil {
		t.Fatalf("free artifact must survive its longer delay: %v", err)
	}
}

func TestEmptyRecordIsIgnored(t *testing.T) {
	cfg := Config{SweepInterval: 10 * time.Millisecond}
	c, _ := newTestCoordinator(t, staticOwners{}, cfg)

	c.Schedule(models.CleanupRecord{TaskID: "x", OwnerID: 1, OwnerTier: models.TierFree, EmittedAt: time.Now()})

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	if pending != 0 {
		t.Fatalf("record without paths must not be queued, got %d pending", pending)
	}
}

func TestOrphanSweepRespectsCeilingAndProtection(t *testing.T) {
	cfg := Config{
		PremiumDelay:  time.Hour,
		FreeDelay:     time.Hour,
		SafetyCeiling: 50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}
	_, store := newTestCoordinator(t, staticOwners{42: {}}, cfg)

	orphan := writeArtifact(t, store, 7, "orphan.bin")
	protected := writeArtifact(t, store, 42, "active.bin")
	old := time.Now().Add(-time.Minute)
	for _, p := range []string{orphan, protected} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("age artifact: %v", err)
		}
	}

	waitGone(t, orphan)
	if _, err := os.Stat(protected); err != nil {
		t.Fatalf("active owner's artifact must never be swept: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(orphan)); !os.IsNotExist(err) {
		t.Fatalf("empty orphan directory should be pruned")
	}
}

func TestScheduledDeletePrunesOwnerDir(t *testing.T) {
	cfg := Config{
		PremiumDelay:  10 * time.Millisecond,
		FreeDelay:     10 * time.Millisecond,
		SafetyCeiling: time.Hour,
		SweepInterval: 10 * time.Millisecond,
	}
	c, store := newTestCoordinator(t, staticOwners{}, cfg)

	path := writeArtifact(t, store, 9, "only.bin")
	c.Schedule(models.CleanupRecord{TaskID: "t", OwnerID: 9, OwnerTier: models.TierFree, Paths: []string{path}, EmittedAt: time.Now()})

	waitGone(t, path)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("owner directory should be removed once empty")
}

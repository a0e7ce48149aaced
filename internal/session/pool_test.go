package session

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/oskarpl/media-relay/internal/platform"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
)

type fakeConn struct {
	userID     int64
	authorized bool
	closed     bool
}

func (c *fakeConn) Authorized(ctx context.Context) bool { return c.authorized }

func (c *fakeConn) ProbeSize(ctx context.Context, sourceRef string) (int64, error) {
	return 0, platform.ErrSizeUnknown
}

func (c *fakeConn) ReadChunk(ctx context.Context, sourceRef string, offset, length int64, connections int) ([]byte, error) {
	return nil, io.EOF
}

func (c *fakeConn) WriteChunks(ctx context.Context, destRef string, r io.Reader, connections int) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeClient struct {
	authErr error
	conns   []*fakeConn
}

func (f *fakeClient) Authenticate(ctx context.Context, userID int64, credential string) (platform.Conn, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	conn := &fakeConn{userID: userID, authorized: true}
	f.conns = append(f.conns, conn)
	return conn, nil
}

type memCreds struct {
	sessions map[int64]string
	loadErr  error
}

func newMemCreds(users ...int64) *memCreds {
	m := &memCreds{sessions: make(map[int64]string)}
	for _, u := range users {
		m.sessions[u] = fmt.Sprintf("cred-%d", u)
	}
	return m
}

func (m *memCreds) LoadSession(ctx context.Context, userID int64) (string, error) {
	if m.loadErr != nil {
		return "", m.loadErr
	}
	return m.sessions[userID], nil
}

func (m *memCreds) DeleteSession(ctx context.Context, userID int64) error {
	delete(m.sessions, userID)
	return nil
}

func newTestPool(t *testing.T, capacity int, users ...int64) (*Pool, *fakeClient, *time.Time) {
	t.Helper()
	client := &fakeClient{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	pool := NewPool(client, newMemCreds(users...), Config{
		Capacity:      capacity,
		IdleTimeout:   30 * time.Minute,
		EvictionGrace: 2 * time.Minute,
	}, nil)
	pool.now = func() time.Time { return *clock }
	return pool, client, clock
}

func TestAcquireReusesHandle(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := pool.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same handle for repeat acquire")
	}
	if len(client.conns) != 1 {
		t.Fatalf("expected one connection, got %d", len(client.conns))
	}
	if first.activeTasks != 2 {
		t.Fatalf("expected active count 2, got %d", first.activeTasks)
	}
}

func TestAcquireSlotsFullWhenAllBusy(t *testing.T) {
	pool, _, _ := newTestPool(t, 3, 1, 2, 3, 4)
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3} {
		if _, err := pool.Acquire(ctx, uid); err != nil {
			t.Fatalf("acquire for %d: %v", uid, err)
		}
	}

	_, err := pool.Acquire(ctx, 4)
	if !appErrors.Is(err, appErrors.ErrSlotsFull) {
		t.Fatalf("expected SLOTS_FULL, got %v", err)
	}
	if pool.Size() != 3 {
		t.Fatalf("pool size changed on rejected acquire: %d", pool.Size())
	}
}

func TestAcquireEvictsIdleHandle(t *testing.T) {
	pool, client, clock := newTestPool(t, 3, 1, 2, 3, 4)
	ctx := context.Background()

	handles := make(map[int64]*Handle)
	for _, uid := range []int64{1, 2, 3} {
		h, err := pool.Acquire(ctx, uid)
		if err != nil {
			t.Fatalf("acquire for %d: %v", uid, err)
		}
		handles[uid] = h
	}

	// User 2 finishes; the others stay mid-transfer.
	pool.Release(handles[2])
	*clock = clock.Add(5 * time.Minute)

	h, err := pool.Acquire(ctx, 4)
	if err != nil {
		t.Fatalf("expected eviction to free a slot: %v", err)
	}
	if h.UserID() != 4 {
		t.Fatalf("unexpected handle owner: %d", h.UserID())
	}
	if pool.Size() != 3 {
		t.Fatalf("expected pool size 3, got %d", pool.Size())
	}
	if !client.conns[1].closed {
		t.Fatalf("expected the idle session to be disconnected")
	}
	if client.conns[0].closed || client.conns[2].closed {
		t.Fatalf("a busy session was disconnected")
	}
}

func TestAcquireRespectsEvictionGrace(t *testing.T) {
	pool, _, clock := newTestPool(t, 1, 1, 2)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Release(h)

	// Released just now: inside the grace period, not evictable yet.
	if _, err := pool.Acquire(ctx, 2); !appErrors.Is(err, appErrors.ErrSlotsFull) {
		t.Fatalf("expected SLOTS_FULL inside grace period, got %v", err)
	}

	*clock = clock.Add(3 * time.Minute)
	if _, err := pool.Acquire(ctx, 2); err != nil {
		t.Fatalf("expected eviction after grace period: %v", err)
	}
}

func TestAcquireInvalidSession(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Release(h)
	client.conns[0].authorized = false

	_, err = pool.Acquire(ctx, 1)
	if !appErrors.Is(err, appErrors.ErrInvalidSession) {
		t.Fatalf("expected INVALID_SESSION, got %v", err)
	}
	if pool.Size() != 0 {
		t.Fatalf("revoked handle still in pool")
	}
	if !client.conns[0].closed {
		t.Fatalf("revoked session was not disconnected")
	}
}

func TestAcquireCreationFailed(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1)
	client.authErr = fmt.Errorf("dial: %w", platform.ErrTransient)

	_, err := pool.Acquire(context.Background(), 1)
	if !appErrors.Is(err, appErrors.ErrCreationFailed) {
		t.Fatalf("expected CREATION_FAILED, got %v", err)
	}
	if pool.Size() != 0 {
		t.Fatalf("failed creation consumed a slot")
	}
}

func TestAcquireUnauthorizedCredential(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1)
	creds := pool.creds.(*memCreds)
	client.authErr = fmt.Errorf("login: %w", platform.ErrUnauthorized)

	_, err := pool.Acquire(context.Background(), 1)
	if !appErrors.Is(err, appErrors.ErrInvalidSession) {
		t.Fatalf("expected INVALID_SESSION, got %v", err)
	}
	if _, ok := creds.sessions[1]; ok {
		t.Fatalf("revoked credential should be forgotten")
	}
}

func TestAcquireCredentialStoreUnavailable(t *testing.T) {
	pool, _, _ := newTestPool(t, 3, 1)
	creds := pool.creds.(*memCreds)
	creds.loadErr = fmt.Errorf("dial tcp 127.0.0.1:6379: connect: connection refused")

	// A store outage is retryable; the credential may be perfectly valid.
	_, err := pool.Acquire(context.Background(), 1)
	if !appErrors.Is(err, appErrors.ErrCreationFailed) {
		t.Fatalf("expected CREATION_FAILED for store outage, got %v", err)
	}
	if _, ok := creds.sessions[1]; !ok {
		t.Fatalf("store outage must not delete the stored credential")
	}
	if pool.Size() != 0 {
		t.Fatalf("failed lookup consumed a slot")
	}
}

func TestAcquireMissingCredential(t *testing.T) {
	pool, _, _ := newTestPool(t, 3)

	_, err := pool.Acquire(context.Background(), 99)
	if !appErrors.Is(err, appErrors.ErrInvalidSession) {
		t.Fatalf("expected INVALID_SESSION for unknown user, got %v", err)
	}
}

func TestSweepSkipsBusyHandles(t *testing.T) {
	pool, client, clock := newTestPool(t, 3, 1, 2)
	ctx := context.Background()

	if _, err := pool.Acquire(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := pool.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Release(h2)

	*clock = clock.Add(31 * time.Minute)
	if n := pool.Sweep(ctx); n != 1 {
		t.Fatalf("expected one reclaimed session, got %d", n)
	}
	if client.conns[0].closed {
		t.Fatalf("sweep disconnected a busy session")
	}
	if !client.conns[1].closed {
		t.Fatalf("sweep left an idle session connected")
	}
	if pool.Size() != 1 {
		t.Fatalf("expected one live handle, got %d", pool.Size())
	}
}

// TestPoolInvariantsUnderRandomLoad drives random interleavings of acquire,
// release and sweep and checks the two hard invariants after every step: the
// live-handle count never exceeds capacity, and a handle with active tasks is
// never disconnected.
func TestPoolInvariantsUnderRandomLoad(t *testing.T) {
	const capacity = 3
	users := []int64{1, 2, 3, 4, 5, 6}
	pool, _, clock := newTestPool(t, capacity, users...)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	held := make(map[int64][]*Handle)

	for i := 0; i < 2000; i++ {
		uid := users[rng.Intn(len(users))]
		switch rng.Intn(4) {
		case 0:
			h, err := pool.Acquire(ctx, uid)
			if err == nil {
				held[uid] = append(held[uid], h)
			} else if !appErrors.Is(err, appErrors.ErrSlotsFull) {
				t.Fatalf("unexpected acquire error: %v", err)
			}
		case 1:
			if hs := held[uid]; len(hs) > 0 {
				pool.Release(hs[len(hs)-1])
				held[uid] = hs[:len(hs)-1]
			}
		case 2:
			*clock = clock.Add(time.Duration(rng.Intn(600)) * time.Second)
		case 3:
			pool.Sweep(ctx)
		}

		if pool.Size() > capacity {
			t.Fatalf("step %d: pool size %d exceeds capacity %d", i, pool.Size(), capacity)
		}
		for owner, hs := range held {
			for _, h := range hs {
				if h.conn.(*fakeConn).closed {
					t.Fatalf("step %d: busy handle for user %d was disconnected", i, owner)
				}
			}
		}
	}
}

func TestRevokeUser(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Release(h)
	pool.RevokeUser(ctx, 1)

	if pool.Size() != 0 {
		t.Fatalf("expected empty pool after revoke")
	}
	if !client.conns[0].closed {
		t.Fatalf("revoked session not disconnected")
	}
}

func TestShutdownDisconnectsAll(t *testing.T) {
	pool, client, _ := newTestPool(t, 3, 1, 2)
	ctx := context.Background()

	for _, uid := range []int64{1, 2} {
		if _, err := pool.Acquire(ctx, uid); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	pool.Shutdown(ctx)
	if pool.Size() != 0 {
		t.Fatalf("expected empty pool after shutdown")
	}
	for i, conn := range client.conns {
		if !conn.closed {
			t.Fatalf("connection %d still open after shutdown", i)
		}
	}
}

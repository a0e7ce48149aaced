package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oskarpl/media-relay/internal/events"
	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/internal/platform"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
)

// Lease is an acquired session slot, usable by exactly one task at a time.
type Lease interface {
	UserID() int64
	Conn() platform.Conn
}

// Pool is the slice of the session pool the queue consumes.
type Pool interface {
	Acquire(ctx context.Context, userID int64) (Lease, error)
	Release(lease Lease)
	Size() int
	Capacity() int
}

// CleanupSink consumes cleanup records emitted on terminal task states.
type CleanupSink interface {
	Schedule(rec models.CleanupRecord)
}

// Config bounds admission and scheduling.
type Config struct {
	MaxActive        int
	MaxPending       int
	MaxPendingAge    time.Duration
	SlotsFullBackoff time.Duration
	RetentionWindow  time.Duration
	TickInterval     time.Duration
	Deadline         time.Duration
	MaxRetries       int
	AcquireRetries   int
}

// SubmitRequest describes one transfer to admit.
type SubmitRequest struct {
	OwnerID   int64
	OwnerTier models.Tier
	SourceRef string
	DestRef   string
	Filename  string
	SizeBytes int64
	GroupID   string
	GroupSeq  int
}

// Queue admits, schedules and executes transfer tasks. A single scheduler
// goroutine owns every piece of queue state; all interaction goes through
// the command channel, so state transitions are serialized without locks.
type Queue struct {
	pool    Pool
	runner  Runner
	cleanup CleanupSink
	events  events.Publisher
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time

	cmds    chan interface{}
	stopped chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	// Scheduler-owned state. Never touched outside the loop goroutine.
	entries   map[string]*taskEntry
	pending   []string
	ownerBusy map[int64]string
	groupNext map[string]int
	active    int
}

type taskEntry struct {
	task            *models.TransferTask
	notBefore       time.Time
	acquireAttempts int
	lease           Lease
	abort           context.CancelFunc
}

// Command and message types consumed by the scheduler loop.
type submitCmd struct {
	req  SubmitRequest
	id   string
	resp chan error
}

type cancelCmd struct {
	id   string
	resp chan error
}

type cancelAllCmd struct {
	resp chan int
}

type statusResult struct {
	task     models.TransferTask
	position int
	err      error
}

type statusCmd struct {
	id   string
	resp chan statusResult
}

type snapshotCmd struct {
	resp chan models.QueueSnapshot
}

type activeOwnersCmd struct {
	resp chan map[int64]struct{}
}

type updateMsg struct {
	id     string
	update Update
}

type doneMsg struct {
	id    string
	paths []string
	err   error
}

// NewQueue constructs a queue with safe defaults for zero config fields.
func NewQueue(pool Pool, runner Runner, cleanup CleanupSink, publisher events.Publisher, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 20
	}
	if cfg.MaxPendingAge <= 0 {
		cfg.MaxPendingAge = time.Hour
	}
	if cfg.SlotsFullBackoff <= 0 {
		cfg.SlotsFullBackoff = 5 * time.Second
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 10 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Queue{
		pool:      pool,
		runner:    runner,
		cleanup:   cleanup,
		events:    publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		cmds:      make(chan interface{}, 64),
		stopped:   make(chan struct{}),
		entries:   make(map[string]*taskEntry),
		ownerBusy: make(map[int64]string),
		groupNext: make(map[string]int),
	}
}

// Start boots the scheduler loop. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true
	go q.loop(loopCtx)
	q.logger.Sugar().Infow("transfer queue started",
		"max_active", q.cfg.MaxActive, "max_pending", q.cfg.MaxPending)
}

// Stop cancels the scheduler and every running task.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	<-q.stopped
	q.logger.Sugar().Infow("transfer queue stopped")
}

// Submit admits a task and returns its id. Admission fails with
// QUEUE_FULL when the pending sequence is at capacity and DUPLICATE_TASK
// when the owner already has an unrelated task queued or active.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	id := uuid.NewString()
	cmd := submitCmd{req: req, id: id, resp: make(chan error, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return "", err
	}
	select {
	case err := <-cmd.resp:
		if err != nil {
			return "", err
		}
		return id, nil
	case <-q.stopped:
		return "", fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cancel removes a queued task immediately or aborts an active one
// cooperatively. The active task's partial artifact is deleted before its
// terminal state is recorded.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	cmd := cancelCmd{id: id, resp: make(chan error, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-q.stopped:
		return fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll aborts every pending and active task. Returns the number of
// tasks cancelled.
func (q *Queue) CancelAll(ctx context.Context) (int, error) {
	cmd := cancelAllCmd{resp: make(chan int, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return 0, err
	}
	select {
	case n := <-cmd.resp:
		return n, nil
	case <-q.stopped:
		return 0, fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Status returns a copy of the task and its 1-based queue position (zero
// when active or terminal).
func (q *Queue) Status(ctx context.Context, id string) (models.TransferTask, int, error) {
	cmd := statusCmd{id: id, resp: make(chan statusResult, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return models.TransferTask{}, 0, err
	}
	select {
	case res := <-cmd.resp:
		return res.task, res.position, res.err
	case <-q.stopped:
		return models.TransferTask{}, 0, fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return models.TransferTask{}, 0, ctx.Err()
	}
}

// Snapshot summarises occupancy for status rendering.
func (q *Queue) Snapshot(ctx context.Context) (models.QueueSnapshot, error) {
	cmd := snapshotCmd{resp: make(chan models.QueueSnapshot, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return models.QueueSnapshot{}, err
	}
	select {
	case snap := <-cmd.resp:
		return snap, nil
	case <-q.stopped:
		return models.QueueSnapshot{}, fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return models.QueueSnapshot{}, ctx.Err()
	}
}

// ActiveOwners returns the owners with a task currently executing. The
// cleanup coordinator uses it to protect their artifact directories.
func (q *Queue) ActiveOwners(ctx context.Context) map[int64]struct{} {
	cmd := activeOwnersCmd{resp: make(chan map[int64]struct{}, 1)}
	if err := q.send(ctx, cmd); err != nil {
		return nil
	}
	select {
	case owners := <-cmd.resp:
		return owners
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (q *Queue) send(ctx context.Context, cmd interface{}) error {
	select {
	case q.cmds <- cmd:
		return nil
	case <-q.stopped:
		return fmt.Errorf("transfer queue stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.stopped)
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drain(ctx)
			return
		case cmd := <-q.cmds:
			q.handle(ctx, cmd)
			q.dispatch(ctx)
		case <-ticker.C:
			q.expireStale(ctx)
			q.pruneFinished()
			q.dispatch(ctx)
		}
	}
}

func (q *Queue) handle(ctx context.Context, cmd interface{}) {
	switch c := cmd.(type) {
	case submitCmd:
		c.resp <- q.admit(ctx, c.id, c.req)
	case cancelCmd:
		c.resp <- q.cancelOne(ctx, c.id)
	case cancelAllCmd:
		c.resp <- q.cancelEverything(ctx)
	case statusCmd:
		c.resp <- q.status(c.id)
	case snapshotCmd:
		c.resp <- q.snapshot()
	case activeOwnersCmd:
		owners := make(map[int64]struct{}, len(q.ownerBusy))
		for owner := range q.ownerBusy {
			owners[owner] = struct{}{}
		}
		c.resp <- owners
	case updateMsg:
		if entry, ok := q.entries[c.id]; ok && !entry.task.State.Terminal() {
			entry.task.State = c.update.State
			if c.update.SizeBytes != 0 {
				entry.task.SizeBytes = c.update.SizeBytes
			}
			if c.update.Connections != 0 {
				entry.task.Connections = c.update.Connections
			}
		}
	case doneMsg:
		q.complete(ctx, c)
	}
}

func (q *Queue) admit(ctx context.Context, id string, req SubmitRequest) error {
	if len(q.pending) >= q.cfg.MaxPending {
		return appErrors.Clone(appErrors.ErrQueueFull,
			fmt.Sprintf("queue is full (%d/%d pending)", len(q.pending), q.cfg.MaxPending))
	}
	if existing := q.ownerTask(req.OwnerID); existing != nil {
		// Members of the same media group queue together; anything else is a
		// duplicate submission.
		if req.GroupID == "" || existing.task.GroupID != req.GroupID {
			pos := q.position(existing.task.ID)
			if pos > 0 {
				return appErrors.Clone(appErrors.ErrDuplicateTask,
					fmt.Sprintf("a transfer is already queued at position %d/%d", pos, len(q.pending)))
			}
			return appErrors.Clone(appErrors.ErrDuplicateTask, "a transfer is already in progress")
		}
	}

	size := req.SizeBytes
	if size < 0 {
		size = models.SizeUnknown
	}
	task := &models.TransferTask{
		ID:         id,
		OwnerID:    req.OwnerID,
		OwnerTier:  req.OwnerTier,
		SourceRef:  req.SourceRef,
		DestRef:    req.DestRef,
		Filename:   req.Filename,
		SizeBytes:  size,
		State:      models.TaskQueued,
		GroupID:    req.GroupID,
		GroupSeq:   req.GroupSeq,
		EnqueuedAt: q.now(),
	}
	entry := &taskEntry{task: task}
	q.entries[id] = entry
	q.insertPending(id)
	q.logger.Sugar().Infow("task admitted",
		"task_id", id, "owner", req.OwnerID, "tier", req.OwnerTier,
		"group", req.GroupID, "seq", req.GroupSeq, "pending", len(q.pending))
	return nil
}

// insertPending keeps the pending sequence ordered premium first, FIFO
// within a tier.
func (q *Queue) insertPending(id string) {
	entry := q.entries[id]
	rank := tierRank(entry.task.OwnerTier)
	idx := len(q.pending)
	for i, pid := range q.pending {
		if tierRank(q.entries[pid].task.OwnerTier) > rank {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, "")
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = id
}

func tierRank(tier models.Tier) int {
	if tier == models.TierPremium {
		return 0
	}
	return 1
}

// dispatch starts eligible pending tasks while capacity remains. A task is
// eligible when its backoff has elapsed, its owner has no task executing,
// and every earlier member of its group has reached a terminal state.
func (q *Queue) dispatch(ctx context.Context) {
	now := q.now()
	for q.active < q.cfg.MaxActive {
		id := q.nextEligible(now)
		if id == "" {
			return
		}
		entry := q.entries[id]
		q.acquireAndStart(ctx, entry)
		now = q.now()
	}
}

func (q *Queue) nextEligible(now time.Time) string {
	for _, id := range q.pending {
		entry := q.entries[id]
		if entry.notBefore.After(now) {
			continue
		}
		if _, busy := q.ownerBusy[entry.task.OwnerID]; busy {
			continue
		}
		if entry.task.GroupID != "" && entry.task.GroupSeq != q.groupNext[entry.task.GroupID] {
			continue
		}
		return id
	}
	return ""
}

func (q *Queue) acquireAndStart(ctx context.Context, entry *taskEntry) {
	task := entry.task
	lease, err := q.pool.Acquire(ctx, task.OwnerID)
	if err != nil {
		switch {
		case appErrors.Is(err, appErrors.ErrSlotsFull):
			// Requeue in place: the task keeps its position and is skipped
			// until the backoff elapses. Later tasks from other owners may
			// overtake it, which avoids head-of-line blocking.
			entry.notBefore = q.now().Add(q.cfg.SlotsFullBackoff)
			q.publish(ctx, task, "all session slots busy, please wait")
		case appErrors.Is(err, appErrors.ErrInvalidSession):
			q.removePending(task.ID)
			q.finalize(ctx, entry, models.TaskFailed, "re-authentication required", nil)
		case appErrors.Is(err, appErrors.ErrCreationFailed):
			entry.acquireAttempts++
			if entry.acquireAttempts > q.cfg.AcquireRetries {
				q.removePending(task.ID)
				q.finalize(ctx, entry, models.TaskFailed, "could not establish platform session", nil)
				return
			}
			entry.notBefore = q.now().Add(retryBackoff(entry.acquireAttempts, q.cfg.SlotsFullBackoff))
			q.logger.Sugar().Warnw("session creation failed, will retry",
				"task_id", task.ID, "attempt", entry.acquireAttempts, "error", err)
		default:
			q.removePending(task.ID)
			q.finalize(ctx, entry, models.TaskFailed, err.Error(), nil)
		}
		return
	}

	q.removePending(task.ID)
	task.State = models.TaskAcquiringSession
	task.StartedAt = q.now()
	if task.SizeBytes >= 0 {
		task.Connections = ConnectionsForSize(task.SizeBytes)
	}
	entry.lease = lease
	q.ownerBusy[task.OwnerID] = task.ID
	q.active++

	runCtx, abort := context.WithDeadline(ctx, q.now().Add(q.cfg.Deadline))
	entry.abort = abort
	go q.runTask(runCtx, *task, lease)
	q.logger.Sugar().Infow("task started",
		"task_id", task.ID, "owner", task.OwnerID,
		"active", q.active, "max_active", q.cfg.MaxActive)
}

// runTask executes one task in a worker goroutine. All state flows back to
// the scheduler as messages; the worker never touches queue state directly.
func (q *Queue) runTask(ctx context.Context, task models.TransferTask, lease Lease) {
	report := func(u Update) {
		select {
		case q.cmds <- updateMsg{id: task.ID, update: u}:
		case <-q.stopped:
		}
	}
	paths, err := q.runner.Run(ctx, task, lease.Conn(), report)
	select {
	case q.cmds <- doneMsg{id: task.ID, paths: paths, err: err}:
	case <-q.stopped:
		// Shutdown path: the loop's drain releases the lease.
	}
}

func (q *Queue) complete(ctx context.Context, msg doneMsg) {
	entry, ok := q.entries[msg.id]
	if !ok {
		return
	}
	task := entry.task
	q.releaseActive(entry)

	switch {
	case msg.err == nil:
		q.finalize(ctx, entry, models.TaskCompleted, "", msg.paths)
	case appErrors.Is(msg.err, appErrors.ErrCancelled):
		q.finalize(ctx, entry, models.TaskCancelled, "cancelled", msg.paths)
	case appErrors.Is(msg.err, appErrors.ErrDeadlineExceeded):
		q.finalize(ctx, entry, models.TaskFailed, "deadline exceeded", msg.paths)
	case appErrors.Is(msg.err, appErrors.ErrTransferTransient) && task.Attempt < q.cfg.MaxRetries:
		q.scheduleCleanup(task, msg.paths)
		task.Attempt++
		task.State = models.TaskQueued
		task.Connections = 0
		entry.notBefore = q.now().Add(retryBackoff(task.Attempt, q.cfg.SlotsFullBackoff))
		q.insertPending(task.ID)
		q.logger.Sugar().Warnw("transient transfer error, requeued",
			"task_id", task.ID, "attempt", task.Attempt, "error", msg.err)
		q.publish(ctx, task, "transient error, retrying")
	case appErrors.Is(msg.err, appErrors.ErrInvalidSession):
		q.finalize(ctx, entry, models.TaskFailed, "re-authentication required", msg.paths)
	default:
		q.finalize(ctx, entry, models.TaskFailed, appErrors.FromError(msg.err).Message, msg.paths)
	}
}

func (q *Queue) releaseActive(entry *taskEntry) {
	if entry.abort != nil {
		entry.abort()
		entry.abort = nil
	}
	if entry.lease != nil {
		q.pool.Release(entry.lease)
		entry.lease = nil
	}
	if q.ownerBusy[entry.task.OwnerID] == entry.task.ID {
		delete(q.ownerBusy, entry.task.OwnerID)
	}
	if q.active > 0 {
		q.active--
	}
}

// finalize records the terminal state, advances the task's group,
// emits the cleanup record and publishes the status event. Every terminal
// path goes through here so no artifact or group gate is ever leaked.
func (q *Queue) finalize(ctx context.Context, entry *taskEntry, state models.TaskState, reason string, paths []string) {
	task := entry.task
	task.State = state
	task.FailReason = reason
	task.FinishedAt = q.now()

	if task.GroupID != "" {
		if next := task.GroupSeq + 1; next > q.groupNext[task.GroupID] {
			q.groupNext[task.GroupID] = next
		}
	}

	q.scheduleCleanup(task, paths)
	q.publish(ctx, task, reason)
	q.logger.Sugar().Infow("task finished",
		"task_id", task.ID, "owner", task.OwnerID, "state", state,
		"reason", reason, "active", q.active, "pending", len(q.pending))
}

// scheduleCleanup hands surviving artifact paths to the cleanup coordinator.
// Also called on transient requeue: the failed attempt's partial must not
// wait for the orphan sweep if the task never runs again.
func (q *Queue) scheduleCleanup(task *models.TransferTask, paths []string) {
	if q.cleanup == nil || len(paths) == 0 {
		return
	}
	q.cleanup.Schedule(models.CleanupRecord{
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		OwnerTier: task.OwnerTier,
		Paths:     paths,
		EmittedAt: q.now(),
	})
}

func (q *Queue) cancelOne(ctx context.Context, id string) error {
	entry, ok := q.entries[id]
	if !ok {
		return appErrors.ErrNotFound
	}
	task := entry.task
	if task.State.Terminal() {
		return appErrors.Clone(appErrors.ErrConflict, "task already finished")
	}
	if task.State == models.TaskQueued {
		// Still pending: remove without ever touching the session pool.
		q.removePending(id)
		q.finalize(ctx, entry, models.TaskCancelled, "cancelled", nil)
		return nil
	}
	if entry.abort != nil {
		entry.abort()
	}
	return nil
}

func (q *Queue) cancelEverything(ctx context.Context) int {
	cancelled := 0
	for _, id := range append([]string(nil), q.pending...) {
		entry := q.entries[id]
		q.removePending(id)
		q.finalize(ctx, entry, models.TaskCancelled, "cancelled by operator", nil)
		cancelled++
	}
	for _, entry := range q.entries {
		if entry.abort != nil && !entry.task.State.Terminal() {
			entry.abort()
			cancelled++
		}
	}
	q.logger.Sugar().Infow("cancelled all tasks", "count", cancelled)
	return cancelled
}

func (q *Queue) status(id string) statusResult {
	entry, ok := q.entries[id]
	if !ok {
		return statusResult{err: appErrors.ErrNotFound}
	}
	return statusResult{task: *entry.task, position: q.position(id)}
}

func (q *Queue) snapshot() models.QueueSnapshot {
	snap := models.QueueSnapshot{
		Active:       q.active,
		MaxActive:    q.cfg.MaxActive,
		Pending:      len(q.pending),
		MaxPending:   q.cfg.MaxPending,
		Sessions:     q.pool.Size(),
		PoolCapacity: q.pool.Capacity(),
	}
	for _, id := range q.pending {
		if q.entries[id].task.OwnerTier == models.TierPremium {
			snap.PremiumQueue++
		} else {
			snap.FreeQueue++
		}
	}
	return snap
}

// ownerTask returns the owner's queued or executing entry, if any.
func (q *Queue) ownerTask(owner int64) *taskEntry {
	if id, ok := q.ownerBusy[owner]; ok {
		return q.entries[id]
	}
	for _, id := range q.pending {
		if q.entries[id].task.OwnerID == owner {
			return q.entries[id]
		}
	}
	return nil
}

func (q *Queue) position(id string) int {
	for i, pid := range q.pending {
		if pid == id {
			return i + 1
		}
	}
	return 0
}

func (q *Queue) removePending(id string) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// expireStale fails pending tasks older than the configured ceiling. Guards
// against queue entries orphaned by an abandoned client.
func (q *Queue) expireStale(ctx context.Context) {
	cutoff := q.now().Add(-q.cfg.MaxPendingAge)
	for _, id := range append([]string(nil), q.pending...) {
		entry := q.entries[id]
		if entry.task.EnqueuedAt.After(cutoff) {
			continue
		}
		q.removePending(id)
		q.finalize(ctx, entry, models.TaskFailed, "expired in queue", nil)
		q.logger.Sugar().Warnw("dropped stale pending task",
			"task_id", id, "enqueued_at", entry.task.EnqueuedAt)
	}
}

// pruneFinished garbage-collects terminal tasks once their retention window
// has passed, keeping them observable via Status in the meantime.
func (q *Queue) pruneFinished() {
	cutoff := q.now().Add(-q.cfg.RetentionWindow)
	pruned := false
	for id, entry := range q.entries {
		if entry.task.State.Terminal() && entry.task.FinishedAt.Before(cutoff) {
			delete(q.entries, id)
			pruned = true
		}
	}
	if !pruned {
		return
	}
	live := make(map[string]struct{})
	for _, entry := range q.entries {
		if entry.task.GroupID != "" {
			live[entry.task.GroupID] = struct{}{}
		}
	}
	for group := range q.groupNext {
		if _, ok := live[group]; !ok {
			delete(q.groupNext, group)
		}
	}
}

// drain runs after the loop context is cancelled: collect outstanding
// worker results so their leases are released before shutdown returns.
func (q *Queue) drain(ctx context.Context) {
	for q.active > 0 {
		msg := <-q.cmds
		if done, ok := msg.(doneMsg); ok {
			q.complete(ctx, done)
		}
	}
}

func (q *Queue) publish(ctx context.Context, task *models.TransferTask, message string) {
	ev := events.StatusEvent{
		TaskID:  task.ID,
		OwnerID: task.OwnerID,
		State:   string(task.State),
		Message: message,
		Active:  q.active,
		Pending: len(q.pending),
		At:      q.now(),
	}
	if task.SizeBytes > 0 {
		ev.SizeBytes = task.SizeBytes
	}
	if !task.FinishedAt.IsZero() && !task.StartedAt.IsZero() {
		ev.DurationMs = task.FinishedAt.Sub(task.StartedAt).Milliseconds()
	}
	if err := q.events.PublishStatus(ctx, ev); err != nil {
		q.logger.Sugar().Debugw("status event publish failed", "task_id", task.ID, "error", err)
	}
}

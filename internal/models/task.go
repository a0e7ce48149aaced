package models

import "time"

// TaskState tracks a transfer task through its lifecycle. Transitions are
// one-directional; the only backward edge is the bounded retry path from a
// transient failure back to queued.
type TaskState string

const (
	TaskQueued           TaskState = "queued"
	TaskAcquiringSession TaskState = "acquiring-session"
	TaskTransferring     TaskState = "transferring"
	TaskUploading        TaskState = "uploading"
	TaskCompleted        TaskState = "completed"
	TaskFailed           TaskState = "failed"
	TaskCancelled        TaskState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// SizeUnknown marks a task whose size has not been probed yet.
const SizeUnknown int64 = -1

// TransferTask is one schedulable download/upload unit.
type TransferTask struct {
	ID          string    `json:"id"`
	OwnerID     int64     `json:"ownerId"`
	OwnerTier   Tier      `json:"ownerTier"`
	SourceRef   string    `json:"sourceRef"`
	DestRef     string    `json:"destRef"`
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"sizeBytes"`
	State       TaskState `json:"state"`
	Connections int       `json:"connections,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	GroupSeq    int       `json:"groupSeq,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	FailReason  string    `json:"failReason,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// QueueSnapshot summarises queue and pool occupancy for user-facing status
// rendering ("3/3 busy, please wait").
type QueueSnapshot struct {
	Active       int `json:"active"`
	MaxActive    int `json:"maxActive"`
	Pending      int `json:"pending"`
	MaxPending   int `json:"maxPending"`
	PremiumQueue int `json:"premiumQueue"`
	FreeQueue    int `json:"freeQueue"`
	Sessions     int `json:"sessions"`
	PoolCapacity int `json:"poolCapacity"`
}

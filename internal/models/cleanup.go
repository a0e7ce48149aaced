package models

import "time"

// CleanupRecord schedules tier-delayed deletion of a finished task's
// artifacts. Emitted by the queue on every terminal state.
type CleanupRecord struct {
	TaskID    string
	OwnerID   int64
	OwnerTier Tier
	Paths     []string
	EmittedAt time.Time
}

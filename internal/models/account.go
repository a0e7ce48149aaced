package models

import "time"

// Tier is the account class selecting numeric policy (cleanup delay, size
// limits, queue priority).
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Account is the slice of the user record the relay core consumes. Full user
// management lives in the bot-facing service.
type Account struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Tier      Tier      `db:"tier" json:"tier"`
	Downloads int64     `db:"downloads" json:"downloads"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oskarpl/media-relay/internal/models"
)

// AccountRepository provides database access for relay accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID returns an account by its platform user id.
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	const query = `SELECT id, username, tier, downloads, created_at, updated_at FROM accounts WHERE id = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// Upsert inserts the account or refreshes username and tier on conflict.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	const query = `INSERT INTO accounts (id, username, tier, downloads, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`
	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query, account.ID, account.Username, account.Tier, now); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// IncrementDownloads bumps the completed transfer counter.
func (r *AccountRepository) IncrementDownloads(ctx context.Context, id int64) error {
	const query = `UPDATE accounts SET downloads = downloads + 1, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	return nil
}

// UpdateTier changes the account tier.
func (r *AccountRepository) UpdateTier(ctx context.Context, id int64, tier models.Tier) error {
	const query = `UPDATE accounts SET tier = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, tier, time.Now())
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

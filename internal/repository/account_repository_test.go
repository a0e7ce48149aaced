package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarpl/media-relay/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindAccountByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "tier", "downloads", "created_at", "updated_at"}).
		AddRow(int64(42), "alice", string(models.TierPremium), int64(7), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, tier, downloads, created_at, updated_at FROM accounts WHERE id = $1 LIMIT 1")).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	account, err := repo.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, account.Tier)
	assert.Equal(t, int64(7), account.Downloads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAccount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.Account{ID: 42, Username: "alice", Tier: models.TierFree})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementDownloads(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE accounts SET downloads").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementDownloads(context.Background(), 42)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTierMissingAccount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE accounts SET tier").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateTier(context.Background(), 42, models.TierPremium)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

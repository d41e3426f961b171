package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetWallet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"owner_id", "balance", "streak_days", "longest_streak", "last_claim_at", "created_at", "updated_at"}).
		AddRow("alice", int64(120), 3, 7, now, now, now)
	mock.ExpectQuery("SELECT owner_id, balance, streak_days, longest_streak").
		WithArgs("alice").
		WillReturnRows(rows)

	w, err := store.GetWallet(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(120), w.Balance)
	assert.Equal(t, 3, w.StreakDays)
	assert.Equal(t, 7, w.LongestStreak)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWalletNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT owner_id, balance, streak_days, longest_streak").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))

	_, err := store.GetWallet(context.Background(), "ghost")
	assert.Equal(t, ledgererr.KindWalletNotFound, ledgererr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStreakMissingWallet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE ledger_wallets").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateStreak(context.Background(), wallet.StreakUpdate{OwnerID: "ghost", StreakDays: 1})
	assert.Equal(t, ledgererr.KindWalletNotFound, ledgererr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalTotals(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM ledger_journal").
		WillReturnRows(sqlmock.NewRows([]string{"credits", "debits"}).AddRow(int64(500), int64(200)))

	credits, debits, err := store.JournalTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), credits)
	assert.Equal(t, int64(200), debits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSinkDecodesCategories(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"total_burned", "total_gross", "categories", "last_burn_at", "last_burned_amount", "last_category", "updated_at"}).
		AddRow(int64(75), int64(300), []byte(`{"settlement":50,"escrow_payout":25}`), now, int64(25), "escrow_payout", now)
	mock.ExpectQuery("FROM ledger_burn_sink").WillReturnRows(rows)

	sink, err := store.GetSink(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(75), sink.TotalBurned)
	assert.Equal(t, int64(300), sink.TotalGross)
	assert.Equal(t, int64(50), sink.ByCategory["settlement"])
	assert.Equal(t, int64(25), sink.ByCategory["escrow_payout"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEscrowNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM ledger_escrows").
		WithArgs("sess-404").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := store.GetEscrow(context.Background(), "sess-404")
	assert.Equal(t, ledgererr.KindNotFound, ledgererr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFreezeKeepsFirstReason(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// The guarded UPDATE is a no-op once frozen, so the follow-up read
	// still returns the original reason.
	mock.ExpectExec("UPDATE ledger_freeze").
		WithArgs("second reason", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM ledger_freeze").
		WillReturnRows(sqlmock.NewRows([]string{"frozen", "reason", "frozen_at", "cleared_at", "note"}).
			AddRow(true, "first reason", now, nil, ""))

	f, err := store.SetFreeze(context.Background(), "second reason", now)
	require.NoError(t, err)
	assert.True(t, f.Frozen)
	assert.Equal(t, "first reason", f.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

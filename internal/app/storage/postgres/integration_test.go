package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	store, err := Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	owner := "it-" + uuid.NewString()

	result, err := store.Apply(ctx, storage.Mutation{Legs: []wallet.Leg{{
		OwnerID: owner, Direction: wallet.Credit, Amount: 100,
		Source: wallet.SourceAdminGrant, AllowCreate: true,
	}}})
	if err != nil {
		t.Fatalf("apply credit: %v", err)
	}
	if result.Wallets[owner].Balance != 100 {
		t.Fatalf("balance = %d, want 100", result.Wallets[owner].Balance)
	}

	session := "it-sess-" + uuid.NewString()
	lock := storage.Mutation{
		Legs: []wallet.Leg{
			{OwnerID: owner, Direction: wallet.Debit, Amount: 40, Source: wallet.SourceEscrowLock},
			{OwnerID: wallet.EscrowOwnerID, Direction: wallet.Credit, Amount: 40, Source: wallet.SourceEscrowLock, AllowCreate: true},
		},
		EscrowCreate: &escrow.Entry{SessionID: session, OwnerID: owner, Stake: 40, ExpiresAt: time.Now().Add(time.Hour)},
	}
	if _, err := store.Apply(ctx, lock); err != nil {
		t.Fatalf("escrow lock: %v", err)
	}
	if _, err := store.Apply(ctx, lock); ledgererr.KindOf(err) != ledgererr.KindDuplicateSession {
		t.Fatalf("expected duplicate_session, got %v", err)
	}

	w, err := store.GetWallet(ctx, owner)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 60 {
		t.Fatalf("balance after lock = %d, want 60", w.Balance)
	}

	_, err = store.Apply(ctx, storage.Mutation{
		Legs: []wallet.Leg{
			{OwnerID: wallet.EscrowOwnerID, Direction: wallet.Debit, Amount: 40, Source: wallet.SourceEscrowRefund},
			{OwnerID: owner, Direction: wallet.Credit, Amount: 40, Source: wallet.SourceEscrowRefund},
		},
		Escrow: &escrow.Transition{SessionID: session, To: escrow.StatusCancelled, Resolution: "void"},
	})
	if err != nil {
		t.Fatalf("escrow cancel: %v", err)
	}

	e, err := store.GetEscrow(ctx, session)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if e.Status != escrow.StatusCancelled {
		t.Fatalf("escrow status = %s, want cancelled", e.Status)
	}
}

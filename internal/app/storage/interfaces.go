// Package storage defines the persistence interfaces for the ledger and
// the Mutation type that forms the system's single atomic unit of work.
package storage

import (
	"context"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/fairness"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
)

// Mutation is one all-or-nothing unit: a set of balance legs plus optional
// riders that must land with them. Implementations apply every effect or
// none; a failed leg or rider aborts the whole unit.
type Mutation struct {
	Legs         []wallet.Leg
	Burn         *burn.Record
	Escrow       *escrow.Transition
	EscrowCreate *escrow.Entry
	Streak       *wallet.StreakUpdate
}

// MutationResult reports the journal entries appended (one per leg, in leg
// order) and the wallets as they stand after the mutation.
type MutationResult struct {
	Entries []wallet.JournalEntry
	Wallets map[string]wallet.Wallet
}

// LedgerStore persists wallets and the append-only journal.
type LedgerStore interface {
	// Apply executes a mutation atomically. Business violations (missing
	// wallet on a debit, insufficient funds, escrow transition conflict)
	// surface as ledgererr values; nothing is partially applied.
	Apply(ctx context.Context, mut Mutation) (MutationResult, error)

	GetWallet(ctx context.Context, ownerID string) (wallet.Wallet, error)
	EnsureWallet(ctx context.Context, ownerID string) (wallet.Wallet, error)
	ListWallets(ctx context.Context) ([]wallet.Wallet, error)
	UpdateStreak(ctx context.Context, upd wallet.StreakUpdate) (wallet.Wallet, error)

	ListJournal(ctx context.Context, ownerID string, limit int) ([]wallet.JournalEntry, error)
	JournalTotals(ctx context.Context) (credits, debits int64, err error)
	JournalCount(ctx context.Context) (int64, error)
}

// BurnStore reads the fee-burn aggregate written through Apply.
type BurnStore interface {
	GetSink(ctx context.Context) (burn.Sink, error)
	GetSettlement(ctx context.Context, id string) (burn.Settlement, error)
	ListSettlements(ctx context.Context, limit int) ([]burn.Settlement, error)
}

// EscrowStore persists wager escrow entries. Status transitions go through
// Apply so they share the atomic unit with the fund moves.
type EscrowStore interface {
	CreateEscrow(ctx context.Context, e escrow.Entry) (escrow.Entry, error)
	GetEscrow(ctx context.Context, sessionID string) (escrow.Entry, error)
	ListEscrows(ctx context.Context, status escrow.Status) ([]escrow.Entry, error)
	ListExpiredEscrows(ctx context.Context, now time.Time) ([]escrow.Entry, error)
}

// ReconcileStore persists audit snapshots and the global freeze flag.
type ReconcileStore interface {
	SaveSnapshot(ctx context.Context, snap reconcile.Snapshot) (reconcile.Snapshot, error)
	LatestSnapshot(ctx context.Context) (reconcile.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]reconcile.Snapshot, error)
	PruneSnapshots(ctx context.Context, keep int) (int, error)

	GetFreeze(ctx context.Context) (reconcile.Freeze, error)
	SetFreeze(ctx context.Context, reason string, at time.Time) (reconcile.Freeze, error)
	ClearFreeze(ctx context.Context, note string, at time.Time) (reconcile.Freeze, error)
}

// FairnessStore persists RNG commitments.
type FairnessStore interface {
	CreateCommit(ctx context.Context, c fairness.Commit) (fairness.Commit, error)
	GetCommit(ctx context.Context, id string) (fairness.Commit, error)
	LatestCommitForSession(ctx context.Context, sessionID string) (fairness.Commit, error)
	UpdateCommit(ctx context.Context, c fairness.Commit) (fairness.Commit, error)
}

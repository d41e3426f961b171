package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/fairness"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
)

func creditLeg(owner string, amount int64) wallet.Leg {
	return wallet.Leg{
		OwnerID:     owner,
		Direction:   wallet.Credit,
		Amount:      amount,
		Source:      wallet.SourceAdminGrant,
		AllowCreate: true,
	}
}

func TestApplyCreditCreatesWallet(t *testing.T) {
	store := New()
	result, err := store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{creditLeg("alice", 100)}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := result.Wallets["alice"].Balance; got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	entry := result.Entries[0]
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 100 {
		t.Fatalf("journal entry balances %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}

	w, err := store.GetWallet(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 100 {
		t.Fatalf("persisted balance = %d", w.Balance)
	}
}

func TestApplyDebitRequiresWalletAndFunds(t *testing.T) {
	store := New()

	_, err := store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{{
		OwnerID: "ghost", Direction: wallet.Debit, Amount: 10, Source: wallet.SourceAdminRevoke,
	}}})
	if ledgererr.KindOf(err) != ledgererr.KindWalletNotFound {
		t.Fatalf("expected wallet_not_found, got %v", err)
	}

	if _, err := store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{creditLeg("bob", 5)}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{{
		OwnerID: "bob", Direction: wallet.Debit, Amount: 10, Source: wallet.SourceAdminRevoke,
	}}})
	var le *ledgererr.Error
	if !errors.As(err, &le) || le.Kind != ledgererr.KindInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}
	if le.Balance != 5 || le.Required != 10 || le.Shortfall != 5 {
		t.Fatalf("shortfall detail wrong: %+v", le)
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	store := New()
	if _, err := store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{creditLeg("carol", 50)}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Second leg fails, so the first leg's credit must not land either.
	_, err := store.Apply(context.Background(), storage.Mutation{Legs: []wallet.Leg{
		creditLeg("dave", 30),
		{OwnerID: "carol", Direction: wallet.Debit, Amount: 100, Source: wallet.SourceAdminRevoke},
	}})
	if ledgererr.KindOf(err) != ledgererr.KindInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}
	if _, err := store.GetWallet(context.Background(), "dave"); ledgererr.KindOf(err) != ledgererr.KindWalletNotFound {
		t.Fatalf("partial apply leaked a wallet for dave")
	}
	credits, debits, err := store.JournalTotals(context.Background())
	if err != nil {
		t.Fatalf("journal totals: %v", err)
	}
	if credits != 50 || debits != 0 {
		t.Fatalf("journal totals %d/%d, want 50/0", credits, debits)
	}
}

func TestApplyBurnRiderAdvancesSink(t *testing.T) {
	store := New()
	_, err := store.Apply(context.Background(), storage.Mutation{
		Legs: []wallet.Leg{creditLeg("erin", 75), {
			OwnerID: wallet.SinkOwnerID, Direction: wallet.Credit, Amount: 25,
			Source: wallet.SourceBurn, AllowCreate: true,
		}},
		Burn: &burn.Record{
			Category: "store_purchase",
			Gross:    100,
			Burned:   25,
			Settlement: burn.Settlement{
				ID: "st-1", PayeeID: "erin", Gross: 100, Net: 75, Burned: 25, Category: "store_purchase",
			},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	sink, err := store.GetSink(context.Background())
	if err != nil {
		t.Fatalf("get sink: %v", err)
	}
	if sink.TotalBurned != 25 || sink.TotalGross != 100 {
		t.Fatalf("sink counters %d/%d", sink.TotalBurned, sink.TotalGross)
	}
	if sink.ByCategory["store_purchase"] != 25 {
		t.Fatalf("category counter = %d", sink.ByCategory["store_purchase"])
	}

	st, err := store.GetSettlement(context.Background(), "st-1")
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if len(st.JournalIDs) != 2 {
		t.Fatalf("settlement should reference both journal entries, got %d", len(st.JournalIDs))
	}
}

func TestApplyEscrowCreateAndTransition(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Apply(ctx, storage.Mutation{Legs: []wallet.Leg{creditLeg("frank", 100)}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	lock := storage.Mutation{
		Legs: []wallet.Leg{
			{OwnerID: "frank", Direction: wallet.Debit, Amount: 40, Source: wallet.SourceEscrowLock},
			{OwnerID: wallet.EscrowOwnerID, Direction: wallet.Credit, Amount: 40, Source: wallet.SourceEscrowLock, AllowCreate: true},
		},
		EscrowCreate: &escrow.Entry{SessionID: "sess-1", OwnerID: "frank", Stake: 40},
	}
	if _, err := store.Apply(ctx, lock); err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Reusing the session id must fail and move nothing.
	_, err := store.Apply(ctx, lock)
	if ledgererr.KindOf(err) != ledgererr.KindDuplicateSession {
		t.Fatalf("expected duplicate_session, got %v", err)
	}
	w, _ := store.GetWallet(ctx, "frank")
	if w.Balance != 60 {
		t.Fatalf("duplicate lock moved funds: balance %d", w.Balance)
	}

	resolve := storage.Mutation{
		Legs: []wallet.Leg{
			{OwnerID: wallet.EscrowOwnerID, Direction: wallet.Debit, Amount: 40, Source: wallet.SourceEscrowRefund},
			{OwnerID: "frank", Direction: wallet.Credit, Amount: 40, Source: wallet.SourceEscrowRefund},
		},
		Escrow: &escrow.Transition{SessionID: "sess-1", To: escrow.StatusCancelled, Resolution: "void"},
	}
	if _, err := store.Apply(ctx, resolve); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A second resolution hits the terminal status and aborts its legs.
	_, err = store.Apply(ctx, resolve)
	if ledgererr.KindOf(err) != ledgererr.KindAlreadyResolved {
		t.Fatalf("expected already_resolved, got %v", err)
	}
	w, _ = store.GetWallet(ctx, "frank")
	if w.Balance != 100 {
		t.Fatalf("double resolution moved funds: balance %d", w.Balance)
	}

	e, err := store.GetEscrow(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if e.Status != escrow.StatusCancelled || e.Resolution != "void" {
		t.Fatalf("escrow state %s/%s", e.Status, e.Resolution)
	}
}

func TestApplyStreakRider(t *testing.T) {
	store := New()
	ctx := context.Background()
	claimAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := store.Apply(ctx, storage.Mutation{
		Legs: []wallet.Leg{{
			OwnerID: "gina", Direction: wallet.Credit, Amount: 22,
			Source: wallet.SourceDailyClaim, AllowCreate: true,
		}},
		Streak: &wallet.StreakUpdate{OwnerID: "gina", StreakDays: 3, LongestStreak: 5, LastClaimAt: claimAt},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	w, _ := store.GetWallet(ctx, "gina")
	if w.StreakDays != 3 || w.LongestStreak != 5 || !w.LastClaimAt.Equal(claimAt) {
		t.Fatalf("streak not applied: %+v", w)
	}
}

func TestApplyDailyClaimRiderDedupesUnderLock(t *testing.T) {
	store := New()
	ctx := context.Background()
	morning := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	claim := func(at time.Time) (storage.MutationResult, error) {
		return store.Apply(ctx, storage.Mutation{
			Legs: []wallet.Leg{{
				OwnerID: "gus", Direction: wallet.Credit, Amount: 22,
				Source: wallet.SourceDailyClaim, AllowCreate: true,
			}},
			Streak: &wallet.StreakUpdate{
				OwnerID: "gus", StreakDays: 1, LongestStreak: 1,
				LastClaimAt: at, DailyClaim: true,
			},
		})
	}

	if _, err := claim(morning); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// A second claim on the same UTC day fails inside Apply, and the
	// whole mutation aborts: no credit, no journal entry.
	if _, err := claim(morning.Add(6 * time.Hour)); ledgererr.KindOf(err) != ledgererr.KindAlreadyResolved {
		t.Fatalf("expected already_resolved, got %v", err)
	}
	w, _ := store.GetWallet(ctx, "gus")
	if w.Balance != 22 {
		t.Fatalf("balance = %d, want 22", w.Balance)
	}
	entries, _ := store.ListJournal(ctx, "gus", 0)
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(entries))
	}

	// The next UTC day passes the dedup.
	if _, err := claim(morning.Add(25 * time.Hour)); err != nil {
		t.Fatalf("next-day claim: %v", err)
	}
}

func TestListJournalNewestFirstAndLimited(t *testing.T) {
	store := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.Apply(ctx, storage.Mutation{Legs: []wallet.Leg{creditLeg("henry", int64(i+1))}}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	entries, err := store.ListJournal(ctx, "henry", 2)
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Amount != 5 || entries[1].Amount != 4 {
		t.Fatalf("ordering wrong: %d, %d", entries[0].Amount, entries[1].Amount)
	}
}

func TestFreezeSetOnce(t *testing.T) {
	store := New()
	ctx := context.Background()
	first, err := store.SetFreeze(ctx, "variance detected", time.Now().UTC())
	if err != nil {
		t.Fatalf("set freeze: %v", err)
	}
	second, err := store.SetFreeze(ctx, "different reason", time.Now().UTC())
	if err != nil {
		t.Fatalf("second set freeze: %v", err)
	}
	if second.Reason != first.Reason {
		t.Fatalf("freeze reason overwritten: %q", second.Reason)
	}
	cleared, err := store.ClearFreeze(ctx, "operator reviewed", time.Now().UTC())
	if err != nil {
		t.Fatalf("clear freeze: %v", err)
	}
	if cleared.Frozen || cleared.Note != "operator reviewed" {
		t.Fatalf("clear not applied: %+v", cleared)
	}
}

func commitFixture(id, session string, nonce int64) fairness.Commit {
	return fairness.Commit{
		ID:             id,
		SessionID:      session,
		ServerSecret:   "aa",
		ServerSeedHash: "bb",
		ClientSeed:     "client",
		Nonce:          nonce,
	}
}

func TestCommitsPerSession(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.CreateCommit(ctx, commitFixture("c1", "sess", 1)); err != nil {
		t.Fatalf("create c1: %v", err)
	}
	if _, err := store.CreateCommit(ctx, commitFixture("c2", "sess", 2)); err != nil {
		t.Fatalf("create c2: %v", err)
	}
	latest, err := store.LatestCommitForSession(ctx, "sess")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != "c2" {
		t.Fatalf("latest = %s, want c2", latest.ID)
	}
	if _, err := store.LatestCommitForSession(ctx, "missing"); ledgererr.KindOf(err) != ledgererr.KindSeedNotFound {
		t.Fatalf("expected seed_not_found, got %v", err)
	}
}

package reconcile

import (
	"context"
	"testing"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	domreconcile "github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/services/burnfee"
	"github.com/smarter-poker/diamond-ledger/internal/app/services/ledger"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage/memory"
)

type fixture struct {
	store  *memory.Store
	engine *ledger.Engine
	burns  *burnfee.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	engine := ledger.NewEngine(store, store, nil, nil)
	if err := engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return fixture{store: store, engine: engine, burns: burnfee.NewService(engine, store, nil)}
}

func (f fixture) runTraffic(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.engine.Mint(ctx, ledger.MintRequest{OwnerID: "alice", Amount: 200, Source: wallet.SourceAdminGrant}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.engine.Transfer(ctx, ledger.TransferRequest{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 50}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.burns.Settle(ctx, burnfee.SettleRequest{PayerID: "alice", PayeeID: "bob", Gross: 40}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := f.engine.Burn(ctx, ledger.BurnRequest{OwnerID: "bob", Amount: 10, Source: wallet.SourceStorePurchase}); err != nil {
		t.Fatalf("burn: %v", err)
	}
}

func TestAuditBalancedAfterTraffic(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)

	auditor := NewAuditor(f.store, f.store, f.store, f.engine, nil)
	snap, err := auditor.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if snap.Health != domreconcile.HealthBalanced {
		t.Fatalf("health = %s (variance %d, note %q)", snap.Health, snap.Variance, snap.Note)
	}
	if snap.Variance != 0 {
		t.Fatalf("variance = %d, want 0", snap.Variance)
	}
	if !snap.BurnRateOK {
		t.Fatalf("burn rate flagged: drift %d", snap.BurnRateDrift)
	}
	if snap.Frozen || f.engine.Frozen() {
		t.Fatal("balanced audit must not freeze")
	}

	latest, err := auditor.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != snap.ID {
		t.Fatalf("latest snapshot id mismatch")
	}
}

// journalSkew wraps the store and shifts the reported journal totals so
// the two records disagree by a chosen amount.
type journalSkew struct {
	*memory.Store
	extraCredits int64
}

func (s journalSkew) JournalTotals(ctx context.Context) (int64, int64, error) {
	credits, debits, err := s.Store.JournalTotals(ctx)
	return credits + s.extraCredits, debits, err
}

func TestAuditMinorVariance(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)

	auditor := NewAuditor(journalSkew{f.store, 5}, f.store, f.store, f.engine, nil)
	snap, err := auditor.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if snap.Health != domreconcile.HealthMinor {
		t.Fatalf("health = %s, want minor", snap.Health)
	}
	if snap.Variance != 5 {
		t.Fatalf("variance = %d, want 5", snap.Variance)
	}
	if f.engine.Frozen() {
		t.Fatal("minor variance must not freeze")
	}
}

func TestAuditCriticalVarianceFreezes(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)

	auditor := NewAuditor(journalSkew{f.store, 50}, f.store, f.store, f.engine, nil)
	snap, err := auditor.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if snap.Health != domreconcile.HealthCritical {
		t.Fatalf("health = %s, want critical", snap.Health)
	}
	if !snap.Frozen || !f.engine.Frozen() {
		t.Fatal("critical variance must freeze the ledger")
	}
	if snap.Note == "" {
		t.Fatal("critical snapshot should carry a note")
	}
}

// sinkSkew reports burn counters that no longer match the sink wallet.
type sinkSkew struct {
	*memory.Store
}

func (s sinkSkew) GetSink(ctx context.Context) (burn.Sink, error) {
	sink, err := s.Store.GetSink(ctx)
	sink.TotalBurned -= 7
	return sink, err
}

func TestAuditSinkMirrorMismatchIsCritical(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)

	auditor := NewAuditor(f.store, sinkSkew{f.store}, f.store, f.engine, nil)
	snap, err := auditor.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if snap.Health != domreconcile.HealthCritical {
		t.Fatalf("health = %s, want critical", snap.Health)
	}
	if !f.engine.Frozen() {
		t.Fatal("mirror mismatch must freeze the ledger")
	}
}

// grossSkew inflates the reported settled gross so the observed burn rate
// falls outside tolerance while the sink wallet still mirrors correctly.
type grossSkew struct {
	*memory.Store
	extra *int64
}

func (s grossSkew) GetSink(ctx context.Context) (burn.Sink, error) {
	sink, err := s.Store.GetSink(ctx)
	sink.TotalGross += *s.extra
	return sink, err
}

func TestAuditSustainedBurnRateDriftFreezes(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)
	ctx := context.Background()

	extra := int64(100000)
	auditor := NewAuditor(f.store, grossSkew{f.store, &extra}, f.store, f.engine, nil)

	for pass := 1; pass < BurnRateStrikeLimit; pass++ {
		snap, err := auditor.Audit(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if snap.BurnRateOK {
			t.Fatalf("pass %d: drift %d not flagged", pass, snap.BurnRateDrift)
		}
		if snap.Health != domreconcile.HealthMinor {
			t.Fatalf("pass %d: health = %s, want minor", pass, snap.Health)
		}
		if f.engine.Frozen() {
			t.Fatalf("pass %d froze before the mismatch was sustained", pass)
		}
	}

	snap, err := auditor.Audit(ctx)
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if snap.Health != domreconcile.HealthCritical {
		t.Fatalf("health = %s, want critical after %d failing passes", snap.Health, BurnRateStrikeLimit)
	}
	if !snap.Frozen || !f.engine.Frozen() {
		t.Fatal("sustained burn rate mismatch must freeze the ledger")
	}
}

func TestAuditBurnRateStrikesResetOnRecovery(t *testing.T) {
	f := newFixture(t)
	f.runTraffic(t)
	ctx := context.Background()

	extra := int64(100000)
	auditor := NewAuditor(f.store, grossSkew{f.store, &extra}, f.store, f.engine, nil)

	for pass := 1; pass < BurnRateStrikeLimit; pass++ {
		if _, err := auditor.Audit(ctx); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
	}

	// A clean pass in between breaks the run; the drift returning
	// afterwards starts counting from scratch.
	extra = 0
	snap, err := auditor.Audit(ctx)
	if err != nil {
		t.Fatalf("clean pass: %v", err)
	}
	if !snap.BurnRateOK {
		t.Fatalf("clean pass still flagged: drift %d", snap.BurnRateDrift)
	}

	extra = 100000
	for pass := 1; pass < BurnRateStrikeLimit; pass++ {
		snap, err := auditor.Audit(ctx)
		if err != nil {
			t.Fatalf("second run pass %d: %v", pass, err)
		}
		if snap.Health != domreconcile.HealthMinor {
			t.Fatalf("second run pass %d: health = %s, want minor", pass, snap.Health)
		}
	}
	if f.engine.Frozen() {
		t.Fatal("strikes across a clean pass must not accumulate")
	}
}

func TestAuditSingleFlight(t *testing.T) {
	f := newFixture(t)
	auditor := NewAuditor(f.store, f.store, f.store, f.engine, nil)
	ctx := context.Background()

	auditor.mu.Lock()
	_, err := auditor.Audit(ctx)
	if ledgererr.KindOf(err) != ledgererr.KindResourceBusy {
		t.Fatalf("expected resource_busy while a pass holds the lock, got %v", err)
	}
	auditor.mu.Unlock()

	if _, err := auditor.Audit(ctx); err != nil {
		t.Fatalf("audit after release: %v", err)
	}
}

func TestSnapshotPrune(t *testing.T) {
	f := newFixture(t)
	auditor := NewAuditor(f.store, f.store, f.store, f.engine, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := auditor.Audit(ctx); err != nil {
			t.Fatalf("audit %d: %v", i, err)
		}
	}
	dropped, err := auditor.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	snaps, err := auditor.Snapshots(ctx, 10)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
}

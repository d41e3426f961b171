// Package reconcile implements the ledger auditor: it recomputes the
// aggregate invariants from the journal and the wallet table independently
// and freezes the ledger when they disagree beyond tolerance.
package reconcile

import (
	"context"
	"sync"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/metrics"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// MinorVarianceLimit is the largest absolute variance still reported as
// minor. Anything above it is critical and freezes the ledger.
const MinorVarianceLimit = 10

// BurnRateStrikeLimit is how many consecutive failing burn-rate checks
// count as a sustained mismatch rather than transient drift. Sustained
// mismatch is critical and freezes the ledger.
const BurnRateStrikeLimit = 3

// Freezer sets the global mutation gate. Satisfied by the ledger engine.
type Freezer interface {
	Freeze(ctx context.Context, reason string) (reconcile.Freeze, error)
	Frozen() bool
}

// Auditor runs reconciliation passes. Passes are single-flight: mu is
// taken non-blocking, so a pass landing while another runs fails with
// resource_busy instead of queueing.
type Auditor struct {
	store   storage.LedgerStore
	burns   storage.BurnStore
	recon   storage.ReconcileStore
	freezer Freezer
	log     *logger.Logger

	mu      sync.Mutex
	strikes int // consecutive failing burn-rate checks, guarded by mu
}

func NewAuditor(store storage.LedgerStore, burns storage.BurnStore, recon storage.ReconcileStore, freezer Freezer, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Auditor{store: store, burns: burns, recon: recon, freezer: freezer, log: log}
}

// Audit recomputes the conservation invariant from two independent
// records: the journal's net minted total and the wallet table's allocated
// total. It persists a snapshot, and a critical variance freezes the
// ledger.
func (a *Auditor) Audit(ctx context.Context) (reconcile.Snapshot, error) {
	if !a.mu.TryLock() {
		return reconcile.Snapshot{}, ledgererr.New(ledgererr.KindResourceBusy, "reconciliation pass already running")
	}
	defer a.mu.Unlock()

	credits, debits, err := a.store.JournalTotals(ctx)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	wallets, err := a.store.ListWallets(ctx)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	sink, err := a.burns.GetSink(ctx)
	if err != nil {
		return reconcile.Snapshot{}, err
	}

	var walletTotal, sinkBalance int64
	for _, w := range wallets {
		if w.OwnerID == wallet.SinkOwnerID {
			sinkBalance = w.Balance
			continue
		}
		walletTotal += w.Balance
	}

	snap := reconcile.Snapshot{
		Credits:     credits,
		Debits:      debits,
		NetMinted:   credits - debits,
		WalletTotal: walletTotal,
		SinkBalance: sinkBalance,
		Allocated:   walletTotal + sinkBalance,
	}
	snap.Variance = snap.NetMinted - snap.Allocated

	switch v := abs(snap.Variance); {
	case v == 0:
		snap.Health = reconcile.HealthBalanced
	case v <= MinorVarianceLimit:
		snap.Health = reconcile.HealthMinor
	default:
		snap.Health = reconcile.HealthCritical
	}

	a.checkBurnRate(&snap, sink)

	snap.Frozen = a.freezer != nil && a.freezer.Frozen()
	if snap.Health == reconcile.HealthCritical && a.freezer != nil && !snap.Frozen {
		if _, err := a.freezer.Freeze(ctx, snap.Note); err != nil {
			a.log.WithError(err).Error("freezing after critical variance failed")
		} else {
			snap.Frozen = true
		}
	}

	saved, err := a.recon.SaveSnapshot(ctx, snap)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	metrics.RecordAudit(string(saved.Health), saved.Variance)

	log := a.log.WithField("variance", saved.Variance).WithField("health", string(saved.Health))
	if saved.Health == reconcile.HealthCritical {
		log.Error("reconciliation found critical variance")
	} else if saved.Health == reconcile.HealthMinor {
		log.Warn("reconciliation found minor variance")
	} else {
		log.Debug("reconciliation balanced")
	}
	return saved, nil
}

// checkBurnRate compares the destroyed total against the rate implied by
// settled gross volume. The floor rule can over-burn up to one unit per
// settlement, so the check allows five percent drift plus one. A single
// failing pass only degrades health to minor; drift that persists across
// BurnRateStrikeLimit consecutive passes is sustained mismatch and goes
// critical.
func (a *Auditor) checkBurnRate(snap *reconcile.Snapshot, sink burn.Sink) {
	snap.SettledGross = sink.TotalGross
	snap.TotalBurned = sink.TotalBurned
	snap.ExpectedBurn = sink.TotalGross * burn.RatePercent / 100
	snap.BurnRateDrift = sink.TotalBurned - snap.ExpectedBurn
	tolerance := snap.ExpectedBurn/20 + 1
	snap.BurnRateOK = abs(snap.BurnRateDrift) <= tolerance
	if snap.BurnRateOK {
		a.strikes = 0
	} else {
		a.strikes++
		snap.Note = appendNote(snap.Note, "burn rate drift exceeds tolerance")
		if a.strikes >= BurnRateStrikeLimit {
			snap.Note = appendNote(snap.Note, "burn rate mismatch sustained")
			snap.Health = reconcile.HealthCritical
		} else if snap.Health == reconcile.HealthBalanced {
			snap.Health = reconcile.HealthMinor
		}
	}
	if sink.TotalBurned != snap.SinkBalance {
		snap.Note = appendNote(snap.Note, "sink wallet does not mirror burn counters")
		snap.Health = reconcile.HealthCritical
	}
	if snap.Health == reconcile.HealthCritical && snap.Note == "" {
		snap.Note = "allocated total diverged from journal"
	}
}

// LatestSnapshot returns the most recent audit result.
func (a *Auditor) LatestSnapshot(ctx context.Context) (reconcile.Snapshot, error) {
	return a.recon.LatestSnapshot(ctx)
}

// Snapshots lists recent audit results, newest first.
func (a *Auditor) Snapshots(ctx context.Context, limit int) ([]reconcile.Snapshot, error) {
	return a.recon.ListSnapshots(ctx, limit)
}

// Prune drops all but the newest keep snapshots.
func (a *Auditor) Prune(ctx context.Context, keep int) (int, error) {
	return a.recon.PruneSnapshots(ctx, keep)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

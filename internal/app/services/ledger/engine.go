// Package ledger implements the mutation engine: the single entry point
// for every balance change. All writes funnel through Apply, which holds
// non-blocking per-owner locks, enforces the freeze gate and publishes the
// resulting journal entries.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/events"
	"github.com/smarter-poker/diamond-ledger/internal/app/metrics"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// Engine coordinates atomic ledger mutations.
type Engine struct {
	store storage.LedgerStore
	recon storage.ReconcileStore
	pub   events.Publisher
	log   *logger.Logger

	locks  *lockTable
	frozen atomic.Bool

	appended    atomic.Int64
	notifyEvery int64
	notify      atomic.Value // func()
}

// NewEngine builds the engine over the given stores. The publisher may be
// nil, in which case events are discarded.
func NewEngine(store storage.LedgerStore, recon storage.ReconcileStore, pub events.Publisher, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("ledger-engine")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Engine{
		store: store,
		recon: recon,
		pub:   pub,
		log:   log,
		locks: newLockTable(),
	}
}

// Bootstrap creates the reserved system wallets and loads the persisted
// freeze flag. Called once before the engine serves traffic.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for _, owner := range []string{wallet.SinkOwnerID, wallet.EscrowOwnerID, wallet.HouseOwnerID} {
		if _, err := e.store.EnsureWallet(ctx, owner); err != nil {
			return err
		}
	}
	freeze, err := e.recon.GetFreeze(ctx)
	if err != nil {
		return err
	}
	e.frozen.Store(freeze.Frozen)
	metrics.SetFrozen(freeze.Frozen)
	if freeze.Frozen {
		e.log.WithField("reason", freeze.Reason).Warn("ledger starting with freeze flag set")
	}
	return nil
}

// Frozen reports the in-memory mirror of the persisted freeze flag.
func (e *Engine) Frozen() bool { return e.frozen.Load() }

// SetAuditNotify arranges for fn to be invoked after every n appended
// journal entries. fn must not block.
func (e *Engine) SetAuditNotify(fn func(), n int64) {
	e.notifyEvery = n
	e.notify.Store(fn)
}

// MintRequest creates currency into an owner's wallet.
type MintRequest struct {
	OwnerID  string
	Amount   int64
	Source   wallet.Source
	RefID    string
	RefType  string
	Metadata map[string]string
}

// Mint credits newly created units to a wallet, creating it on first use.
func (e *Engine) Mint(ctx context.Context, req MintRequest) (storage.MutationResult, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if err := validateOwner(owner); err != nil {
		return storage.MutationResult{}, err
	}
	if req.Amount <= 0 {
		return storage.MutationResult{}, ledgererr.InvalidAmount(req.Amount)
	}
	if !wallet.IsMintSource(req.Source) {
		return storage.MutationResult{}, ledgererr.InvalidSource(string(req.Source), string(wallet.Credit))
	}
	return e.Apply(ctx, "mint", storage.Mutation{Legs: []wallet.Leg{{
		OwnerID:     owner,
		Direction:   wallet.Credit,
		Amount:      req.Amount,
		Source:      req.Source,
		RefID:       req.RefID,
		RefType:     req.RefType,
		Metadata:    req.Metadata,
		AllowCreate: true,
	}}})
}

// BurnRequest destroys currency from an owner's wallet.
type BurnRequest struct {
	OwnerID  string
	Amount   int64
	Source   wallet.Source
	RefID    string
	RefType  string
	Metadata map[string]string
}

// Burn debits units out of circulation. The wallet must exist and cover
// the amount.
func (e *Engine) Burn(ctx context.Context, req BurnRequest) (storage.MutationResult, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if err := validateOwner(owner); err != nil {
		return storage.MutationResult{}, err
	}
	if req.Amount <= 0 {
		return storage.MutationResult{}, ledgererr.InvalidAmount(req.Amount)
	}
	if !wallet.IsBurnSource(req.Source) {
		return storage.MutationResult{}, ledgererr.InvalidSource(string(req.Source), string(wallet.Debit))
	}
	return e.Apply(ctx, "burn", storage.Mutation{Legs: []wallet.Leg{{
		OwnerID:   owner,
		Direction: wallet.Debit,
		Amount:    req.Amount,
		Source:    req.Source,
		RefID:     req.RefID,
		RefType:   req.RefType,
		Metadata:  req.Metadata,
	}}})
}

// TransferRequest moves currency between two owners.
type TransferRequest struct {
	FromOwnerID string
	ToOwnerID   string
	Amount      int64
	RefID       string
	Metadata    map[string]string
}

// Transfer debits the sender and credits the recipient in one atomic unit.
// The recipient wallet is created on first use.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (storage.MutationResult, error) {
	from := strings.TrimSpace(req.FromOwnerID)
	to := strings.TrimSpace(req.ToOwnerID)
	if err := validateOwner(from); err != nil {
		return storage.MutationResult{}, err
	}
	if err := validateOwner(to); err != nil {
		return storage.MutationResult{}, err
	}
	if from == to {
		return storage.MutationResult{}, ledgererr.New(ledgererr.KindSelfTransfer, "cannot transfer from %s to itself", from)
	}
	if req.Amount <= 0 {
		return storage.MutationResult{}, ledgererr.InvalidAmount(req.Amount)
	}
	return e.Apply(ctx, "transfer", storage.Mutation{Legs: []wallet.Leg{
		{
			OwnerID:   from,
			Direction: wallet.Debit,
			Amount:    req.Amount,
			Source:    wallet.SourceTransferOut,
			RefID:     req.RefID,
			RefType:   "transfer",
			Metadata:  req.Metadata,
		},
		{
			OwnerID:     to,
			Direction:   wallet.Credit,
			Amount:      req.Amount,
			Source:      wallet.SourceTransferIn,
			RefID:       req.RefID,
			RefType:     "transfer",
			Metadata:    req.Metadata,
			AllowCreate: true,
		},
	}})
}

// Apply runs one mutation end to end: freeze gate, per-owner locks, the
// store's atomic apply, then metrics and event fan-out. Other services
// route their composed mutations through here so every write shares the
// same gate and locking discipline.
func (e *Engine) Apply(ctx context.Context, op string, mut storage.Mutation) (storage.MutationResult, error) {
	start := time.Now()
	if e.frozen.Load() {
		freeze, err := e.recon.GetFreeze(ctx)
		if err == nil && !freeze.Frozen {
			// Persisted flag was cleared elsewhere; resync and continue.
			e.frozen.Store(false)
			metrics.SetFrozen(false)
		} else {
			metrics.RecordOperation(op, "frozen", time.Since(start))
			return storage.MutationResult{}, ledgererr.LedgerFrozen(freeze.Reason)
		}
	}

	owners := make([]string, 0, len(mut.Legs)+1)
	for _, leg := range mut.Legs {
		owners = append(owners, leg.OwnerID)
	}
	if mut.Streak != nil {
		owners = append(owners, mut.Streak.OwnerID)
	}
	release, err := e.locks.acquire(owners)
	if err != nil {
		metrics.RecordOperation(op, "busy", time.Since(start))
		return storage.MutationResult{}, err
	}
	defer release()

	result, err := e.store.Apply(ctx, mut)
	if err != nil {
		outcome := "error"
		if ledgererr.KindOf(err) != "" {
			outcome = string(ledgererr.KindOf(err))
		}
		metrics.RecordOperation(op, outcome, time.Since(start))
		return storage.MutationResult{}, err
	}
	metrics.RecordOperation(op, "ok", time.Since(start))

	e.publish(ctx, mut, result)

	if e.notifyEvery > 0 {
		// Subtract the threshold instead of zeroing the counter so
		// entries landing concurrently still count toward the next
		// pass; a lost swap means another Apply fires instead.
		if n := e.appended.Add(int64(len(result.Entries))); n >= e.notifyEvery && e.appended.CompareAndSwap(n, n-e.notifyEvery) {
			if fn, ok := e.notify.Load().(func()); ok && fn != nil {
				fn()
			}
		}
	}
	return result, nil
}

func (e *Engine) publish(ctx context.Context, mut storage.Mutation, result storage.MutationResult) {
	for _, entry := range result.Entries {
		event := events.JournalEvent{
			EntryID:      entry.ID,
			OwnerID:      entry.OwnerID,
			Direction:    string(entry.Direction),
			Amount:       entry.Amount,
			Source:       string(entry.Source),
			RefID:        entry.RefID,
			RefType:      entry.RefType,
			BalanceAfter: entry.BalanceAfter,
			Metadata:     entry.Metadata,
			CreatedAt:    entry.CreatedAt,
		}
		if err := e.pub.Publish(ctx, events.TopicJournal, event); err != nil {
			e.log.WithError(err).WithField("entry_id", entry.ID).Warn("journal event publish failed")
		}
	}
	if mut.Burn != nil {
		st := mut.Burn.Settlement
		event := events.SettlementEvent{
			SettlementID: st.ID,
			PayerID:      st.PayerID,
			PayeeID:      st.PayeeID,
			Gross:        st.Gross,
			Net:          st.Net,
			Burned:       st.Burned,
			Category:     st.Category,
			CreatedAt:    time.Now().UTC(),
		}
		if err := e.pub.Publish(ctx, events.TopicSettlement, event); err != nil {
			e.log.WithError(err).Warn("settlement event publish failed")
		}
		metrics.RecordBurn(mut.Burn.Category, mut.Burn.Burned)
	}
	if mut.Escrow != nil {
		metrics.RecordEscrowTransition(string(mut.Escrow.To))
	}
}

// Freeze sets the persisted mutation gate. Idempotent: freezing an already
// frozen ledger keeps the original reason.
func (e *Engine) Freeze(ctx context.Context, reason string) (reconcile.Freeze, error) {
	freeze, err := e.recon.SetFreeze(ctx, reason, time.Now().UTC())
	if err != nil {
		return reconcile.Freeze{}, err
	}
	e.frozen.Store(true)
	metrics.SetFrozen(true)
	e.log.WithField("reason", freeze.Reason).Warn("ledger frozen")
	e.publishFreeze(ctx, events.FreezeEvent{Frozen: true, Reason: freeze.Reason, At: freeze.FrozenAt})
	return freeze, nil
}

// Unfreeze clears the gate with an operator note.
func (e *Engine) Unfreeze(ctx context.Context, note string) (reconcile.Freeze, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return reconcile.Freeze{}, fmt.Errorf("unfreeze requires an operator note")
	}
	freeze, err := e.recon.ClearFreeze(ctx, note, time.Now().UTC())
	if err != nil {
		return reconcile.Freeze{}, err
	}
	e.frozen.Store(false)
	metrics.SetFrozen(false)
	e.log.WithField("note", note).Info("ledger freeze cleared")
	e.publishFreeze(ctx, events.FreezeEvent{Frozen: false, Note: note, At: freeze.ClearedAt})
	return freeze, nil
}

func (e *Engine) publishFreeze(ctx context.Context, event events.FreezeEvent) {
	if err := e.pub.Publish(ctx, events.TopicFreeze, event); err != nil {
		e.log.WithError(err).Warn("freeze event publish failed")
	}
}

// Wallet returns the current state of one wallet.
func (e *Engine) Wallet(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	return e.store.GetWallet(ctx, strings.TrimSpace(ownerID))
}

// Journal lists an owner's most recent journal entries, newest first. An
// empty owner lists the global tail.
func (e *Engine) Journal(ctx context.Context, ownerID string, limit int) ([]wallet.JournalEntry, error) {
	return e.store.ListJournal(ctx, strings.TrimSpace(ownerID), limit)
}

func validateOwner(owner string) error {
	if owner == "" {
		return ledgererr.New(ledgererr.KindWalletNotFound, "owner id is required")
	}
	if strings.HasPrefix(owner, "sys:") {
		return ledgererr.New(ledgererr.KindInvalidSource, "owner %s is reserved for internal moves", owner)
	}
	return nil
}

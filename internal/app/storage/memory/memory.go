package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/fairness"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/reconcile"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is
// safe for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu sync.RWMutex

	wallets     map[string]wallet.Wallet
	journal     []wallet.JournalEntry
	sink        burn.Sink
	settlements []burn.Settlement
	escrows     map[string]escrow.Entry
	snapshots   []reconcile.Snapshot
	freeze      reconcile.Freeze
	commits     map[string]fairness.Commit
	bySession   map[string][]string // sessionID -> commit ids in creation order
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.BurnStore = (*Store)(nil)
var _ storage.EscrowStore = (*Store)(nil)
var _ storage.ReconcileStore = (*Store)(nil)
var _ storage.FairnessStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		wallets:   make(map[string]wallet.Wallet),
		sink:      burn.Sink{ByCategory: make(map[string]int64)},
		escrows:   make(map[string]escrow.Entry),
		commits:   make(map[string]fairness.Commit),
		bySession: make(map[string][]string),
	}
}

// LedgerStore implementation --------------------------------------------------

// Apply validates the whole mutation against staged copies first, then
// commits every effect under the store lock. Nothing is visible until the
// final commit loop runs.
func (s *Store) Apply(_ context.Context, mut storage.Mutation) (storage.MutationResult, error) {
	if len(mut.Legs) == 0 {
		return storage.MutationResult{}, fmt.Errorf("mutation has no legs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	staged := make(map[string]wallet.Wallet, len(mut.Legs))
	entries := make([]wallet.JournalEntry, 0, len(mut.Legs))

	for _, leg := range mut.Legs {
		if leg.Amount <= 0 {
			return storage.MutationResult{}, ledgererr.InvalidAmount(leg.Amount)
		}
		if !leg.Source.ValidFor(leg.Direction) {
			return storage.MutationResult{}, ledgererr.InvalidSource(string(leg.Source), string(leg.Direction))
		}

		w, ok := staged[leg.OwnerID]
		if !ok {
			w, ok = s.wallets[leg.OwnerID]
		}
		if !ok {
			if leg.Direction != wallet.Credit || !leg.AllowCreate {
				return storage.MutationResult{}, ledgererr.WalletNotFound(leg.OwnerID)
			}
			w = wallet.Wallet{OwnerID: leg.OwnerID, CreatedAt: now}
		}

		before := w.Balance
		switch leg.Direction {
		case wallet.Credit:
			w.Balance = before + leg.Amount
		case wallet.Debit:
			if before < leg.Amount {
				return storage.MutationResult{}, ledgererr.InsufficientFunds(leg.OwnerID, before, leg.Amount)
			}
			w.Balance = before - leg.Amount
		default:
			return storage.MutationResult{}, fmt.Errorf("unknown direction %q", leg.Direction)
		}
		w.UpdatedAt = now
		staged[leg.OwnerID] = w

		entries = append(entries, wallet.JournalEntry{
			ID:            uuid.NewString(),
			OwnerID:       leg.OwnerID,
			Direction:     leg.Direction,
			Amount:        leg.Amount,
			Source:        leg.Source,
			RefID:         leg.RefID,
			RefType:       leg.RefType,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			Metadata:      cloneMap(leg.Metadata),
			CreatedAt:     now,
		})
	}

	var stagedCreate *escrow.Entry
	if mut.EscrowCreate != nil {
		if _, exists := s.escrows[mut.EscrowCreate.SessionID]; exists {
			return storage.MutationResult{}, ledgererr.New(ledgererr.KindDuplicateSession, "escrow session %s already exists", mut.EscrowCreate.SessionID)
		}
		e := *mut.EscrowCreate
		e.Status = escrow.StatusLocked
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		stagedCreate = &e
	}

	var stagedEscrow *escrow.Entry
	if mut.Escrow != nil {
		e, ok := s.escrows[mut.Escrow.SessionID]
		if !ok {
			return storage.MutationResult{}, ledgererr.New(ledgererr.KindNotFound, "escrow session %s not found", mut.Escrow.SessionID)
		}
		if e.Status != escrow.StatusLocked {
			return storage.MutationResult{}, ledgererr.New(ledgererr.KindAlreadyResolved, "escrow session %s already %s", e.SessionID, e.Status)
		}
		if !mut.Escrow.To.Terminal() {
			return storage.MutationResult{}, fmt.Errorf("escrow transition to non-terminal status %q", mut.Escrow.To)
		}
		e.Status = mut.Escrow.To
		e.Resolution = mut.Escrow.Resolution
		e.ResolvedAt = mut.Escrow.ResolvedAt
		if e.ResolvedAt.IsZero() {
			e.ResolvedAt = now
		}
		stagedEscrow = &e
	}

	if mut.Streak != nil {
		w, ok := staged[mut.Streak.OwnerID]
		if !ok {
			w, ok = s.wallets[mut.Streak.OwnerID]
		}
		if !ok {
			return storage.MutationResult{}, ledgererr.WalletNotFound(mut.Streak.OwnerID)
		}
		if mut.Streak.DailyClaim && !w.LastClaimAt.IsZero() && wallet.SameUTCDay(w.LastClaimAt, mut.Streak.LastClaimAt) {
			return storage.MutationResult{}, ledgererr.New(ledgererr.KindAlreadyResolved, "owner %s already claimed today", mut.Streak.OwnerID)
		}
		w.StreakDays = mut.Streak.StreakDays
		w.LongestStreak = mut.Streak.LongestStreak
		w.LastClaimAt = mut.Streak.LastClaimAt
		w.UpdatedAt = now
		staged[mut.Streak.OwnerID] = w
	}

	var stagedSettlement *burn.Settlement
	if mut.Burn != nil {
		settlement := mut.Burn.Settlement
		if settlement.ID == "" {
			settlement.ID = uuid.NewString()
		}
		if len(settlement.JournalIDs) == 0 {
			for _, e := range entries {
				settlement.JournalIDs = append(settlement.JournalIDs, e.ID)
			}
		}
		settlement.CreatedAt = now
		stagedSettlement = &settlement
	}

	// Commit point: no failure paths below.
	for owner, w := range staged {
		s.wallets[owner] = w
	}
	s.journal = append(s.journal, entries...)
	if stagedCreate != nil {
		s.escrows[stagedCreate.SessionID] = *stagedCreate
	}
	if stagedEscrow != nil {
		s.escrows[stagedEscrow.SessionID] = *stagedEscrow
	}
	if mut.Burn != nil {
		s.sink.TotalBurned += mut.Burn.Burned
		s.sink.TotalGross += mut.Burn.Gross
		s.sink.ByCategory[mut.Burn.Category] += mut.Burn.Burned
		s.sink.LastBurnAt = now
		s.sink.LastBurnedAmt = mut.Burn.Burned
		s.sink.LastCategory = mut.Burn.Category
		s.sink.UpdatedAt = now
		s.settlements = append(s.settlements, *stagedSettlement)
	}

	result := storage.MutationResult{
		Entries: append([]wallet.JournalEntry(nil), entries...),
		Wallets: make(map[string]wallet.Wallet, len(staged)),
	}
	for owner, w := range staged {
		result.Wallets[owner] = w
	}
	return result, nil
}

func (s *Store) GetWallet(_ context.Context, ownerID string) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[ownerID]
	if !ok {
		return wallet.Wallet{}, ledgererr.WalletNotFound(ownerID)
	}
	return w, nil
}

func (s *Store) EnsureWallet(_ context.Context, ownerID string) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.wallets[ownerID]; ok {
		return w, nil
	}
	now := time.Now().UTC()
	w := wallet.Wallet{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	s.wallets[ownerID] = w
	return w, nil
}

func (s *Store) ListWallets(_ context.Context) ([]wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]wallet.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OwnerID < result[j].OwnerID })
	return result, nil
}

func (s *Store) UpdateStreak(_ context.Context, upd wallet.StreakUpdate) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[upd.OwnerID]
	if !ok {
		return wallet.Wallet{}, ledgererr.WalletNotFound(upd.OwnerID)
	}
	w.StreakDays = upd.StreakDays
	w.LongestStreak = upd.LongestStreak
	w.LastClaimAt = upd.LastClaimAt
	w.UpdatedAt = time.Now().UTC()
	s.wallets[upd.OwnerID] = w
	return w, nil
}

func (s *Store) ListJournal(_ context.Context, ownerID string, limit int) ([]wallet.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []wallet.JournalEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		entry := s.journal[i]
		if ownerID != "" && entry.OwnerID != ownerID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) JournalTotals(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credits, debits int64
	for _, entry := range s.journal {
		switch entry.Direction {
		case wallet.Credit:
			credits += entry.Amount
		case wallet.Debit:
			debits += entry.Amount
		}
	}
	return credits, debits, nil
}

func (s *Store) JournalCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.journal)), nil
}

// BurnStore implementation ----------------------------------------------------

func (s *Store) GetSink(_ context.Context) (burn.Sink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sink := s.sink
	sink.ByCategory = cloneCounts(s.sink.ByCategory)
	return sink, nil
}

func (s *Store) GetSettlement(_ context.Context, id string) (burn.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.settlements {
		if st.ID == id {
			return cloneSettlement(st), nil
		}
	}
	return burn.Settlement{}, ledgererr.New(ledgererr.KindNotFound, "settlement %s not found", id)
}

func (s *Store) ListSettlements(_ context.Context, limit int) ([]burn.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []burn.Settlement
	for i := len(s.settlements) - 1; i >= 0; i-- {
		result = append(result, cloneSettlement(s.settlements[i]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// EscrowStore implementation --------------------------------------------------

func (s *Store) CreateEscrow(_ context.Context, e escrow.Entry) (escrow.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.escrows[e.SessionID]; exists {
		return escrow.Entry{}, ledgererr.New(ledgererr.KindDuplicateSession, "escrow session %s already exists", e.SessionID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Status = escrow.StatusLocked
	s.escrows[e.SessionID] = e
	return e, nil
}

func (s *Store) GetEscrow(_ context.Context, sessionID string) (escrow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.escrows[sessionID]
	if !ok {
		return escrow.Entry{}, ledgererr.New(ledgererr.KindNotFound, "escrow session %s not found", sessionID)
	}
	return e, nil
}

func (s *Store) ListEscrows(_ context.Context, status escrow.Status) ([]escrow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]escrow.Entry, 0)
	for _, e := range s.escrows {
		if status == "" || e.Status == status {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListExpiredEscrows(_ context.Context, now time.Time) ([]escrow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]escrow.Entry, 0)
	for _, e := range s.escrows {
		if e.Expired(now) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

// ReconcileStore implementation -----------------------------------------------

func (s *Store) SaveSnapshot(_ context.Context, snap reconcile.Snapshot) (reconcile.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.snapshots = append(s.snapshots, snap)
	return snap, nil
}

func (s *Store) LatestSnapshot(_ context.Context) (reconcile.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return reconcile.Snapshot{}, ledgererr.New(ledgererr.KindNotFound, "no reconciliation snapshots recorded")
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

func (s *Store) ListSnapshots(_ context.Context, limit int) ([]reconcile.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []reconcile.Snapshot
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		result = append(result, s.snapshots[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) PruneSnapshots(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 || len(s.snapshots) <= keep {
		return 0, nil
	}
	dropped := len(s.snapshots) - keep
	s.snapshots = append([]reconcile.Snapshot(nil), s.snapshots[dropped:]...)
	return dropped, nil
}

func (s *Store) GetFreeze(_ context.Context) (reconcile.Freeze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freeze, nil
}

func (s *Store) SetFreeze(_ context.Context, reason string, at time.Time) (reconcile.Freeze, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.freeze.Frozen {
		s.freeze = reconcile.Freeze{Frozen: true, Reason: reason, FrozenAt: at}
	}
	return s.freeze, nil
}

func (s *Store) ClearFreeze(_ context.Context, note string, at time.Time) (reconcile.Freeze, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.freeze = reconcile.Freeze{Frozen: false, Note: note, ClearedAt: at}
	return s.freeze, nil
}

// FairnessStore implementation ------------------------------------------------

func (s *Store) CreateCommit(_ context.Context, c fairness.Commit) (fairness.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.commits[c.ID]; exists {
		return fairness.Commit{}, fmt.Errorf("commit %s already exists", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.commits[c.ID] = c
	s.bySession[c.SessionID] = append(s.bySession[c.SessionID], c.ID)
	return c, nil
}

func (s *Store) GetCommit(_ context.Context, id string) (fairness.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commits[id]
	if !ok {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "commit %s not found", id)
	}
	return c, nil
}

func (s *Store) LatestCommitForSession(_ context.Context, sessionID string) (fairness.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	if len(ids) == 0 {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "no commits for session %s", sessionID)
	}
	return s.commits[ids[len(ids)-1]], nil
}

func (s *Store) UpdateCommit(_ context.Context, c fairness.Commit) (fairness.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.commits[c.ID]
	if !ok {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindSeedNotFound, "commit %s not found", c.ID)
	}
	c.CreatedAt = original.CreatedAt
	s.commits[c.ID] = c
	return c, nil
}

// Helpers ---------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSettlement(st burn.Settlement) burn.Settlement {
	st.JournalIDs = append([]string(nil), st.JournalIDs...)
	return st
}

// Package escrow manages time-boxed wager holdings. A stake moves into the
// escrow wallet when a session locks and leaves through exactly one
// terminal resolution. Each resolution shares an atomic unit with the
// status transition, so a session can never pay out twice.
package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/burn"
	domescrow "github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/events"
	"github.com/smarter-poker/diamond-ledger/internal/app/services/ledger"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// DefaultTTL bounds how long a session can stay locked before the sweep
// expires it.
const DefaultTTL = 30 * time.Minute

// Manager drives the escrow lifecycle.
type Manager struct {
	engine   *ledger.Engine
	store    storage.EscrowStore
	fairness storage.FairnessStore
	pub      events.Publisher
	log      *logger.Logger

	ttl time.Duration
	now func() time.Time
}

// NewManager builds the manager. The fairness store may be nil when no RNG
// oracle is wired; publisher may be nil to discard events.
func NewManager(engine *ledger.Engine, store storage.EscrowStore, fairness storage.FairnessStore, pub events.Publisher, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Manager{
		engine:   engine,
		store:    store,
		fairness: fairness,
		pub:      pub,
		log:      log,
		ttl:      DefaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTTL overrides the default lock lifetime.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		m.ttl = ttl
	}
}

// LockRequest stakes an owner's funds against a session.
type LockRequest struct {
	SessionID string
	OwnerID   string
	Stake     int64
	TTL       time.Duration
	Metadata  map[string]string
}

// Lock moves the stake into the escrow wallet and creates the session
// entry in one atomic unit. A reused session id fails with
// duplicate_session and moves nothing.
func (m *Manager) Lock(ctx context.Context, req LockRequest) (domescrow.Entry, error) {
	session := strings.TrimSpace(req.SessionID)
	owner := strings.TrimSpace(req.OwnerID)
	if session == "" {
		return domescrow.Entry{}, ledgererr.New(ledgererr.KindNotFound, "session id is required")
	}
	if owner == "" {
		return domescrow.Entry{}, ledgererr.New(ledgererr.KindWalletNotFound, "owner id is required")
	}
	if req.Stake <= 0 {
		return domescrow.Entry{}, ledgererr.InvalidAmount(req.Stake)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	entry := domescrow.Entry{
		SessionID: session,
		OwnerID:   owner,
		Stake:     req.Stake,
		Status:    domescrow.StatusLocked,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err := m.engine.Apply(ctx, "escrow_lock", storage.Mutation{
		Legs: []wallet.Leg{
			{
				OwnerID:   owner,
				Direction: wallet.Debit,
				Amount:    req.Stake,
				Source:    wallet.SourceEscrowLock,
				RefID:     session,
				RefType:   "escrow",
				Metadata:  req.Metadata,
			},
			{
				OwnerID:   wallet.EscrowOwnerID,
				Direction: wallet.Credit,
				Amount:    req.Stake,
				Source:    wallet.SourceEscrowLock,
				RefID:     session,
				RefType:   "escrow",
			},
		},
		EscrowCreate: &entry,
	})
	if err != nil {
		return domescrow.Entry{}, err
	}

	m.log.WithField("session", session).WithField("stake", req.Stake).Info("escrow locked")
	m.publish(ctx, entry)
	return entry, nil
}

// Release resolves a won session: the stake returns to the owner and the
// payout is settled from the house wallet through the fee-burn split.
func (m *Manager) Release(ctx context.Context, sessionID string, payout int64) (domescrow.Entry, error) {
	entry, err := m.store.GetEscrow(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domescrow.Entry{}, err
	}
	if payout < 0 {
		return domescrow.Entry{}, ledgererr.InvalidAmount(payout)
	}

	legs := []wallet.Leg{
		{
			OwnerID:   wallet.EscrowOwnerID,
			Direction: wallet.Debit,
			Amount:    entry.Stake,
			Source:    wallet.SourceEscrowRelease,
			RefID:     entry.SessionID,
			RefType:   "escrow",
		},
		{
			OwnerID:   entry.OwnerID,
			Direction: wallet.Credit,
			Amount:    entry.Stake,
			Source:    wallet.SourceEscrowRelease,
			RefID:     entry.SessionID,
			RefType:   "escrow",
		},
	}
	mut := storage.Mutation{
		Legs: legs,
		Escrow: &domescrow.Transition{
			SessionID:  entry.SessionID,
			To:         domescrow.StatusReleased,
			Resolution: "won",
		},
	}

	burned, net := burn.Split(payout)
	if payout > 0 {
		mut.Legs = append(mut.Legs, wallet.Leg{
			OwnerID:   wallet.HouseOwnerID,
			Direction: wallet.Debit,
			Amount:    payout,
			Source:    wallet.SourceSettlement,
			RefID:     entry.SessionID,
			RefType:   "escrow",
		})
		if net > 0 {
			mut.Legs = append(mut.Legs, wallet.Leg{
				OwnerID:   entry.OwnerID,
				Direction: wallet.Credit,
				Amount:    net,
				Source:    wallet.SourceSettlementNet,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			})
		}
		if burned > 0 {
			mut.Legs = append(mut.Legs, wallet.Leg{
				OwnerID:   wallet.SinkOwnerID,
				Direction: wallet.Credit,
				Amount:    burned,
				Source:    wallet.SourceBurn,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			})
		}
		mut.Burn = &burn.Record{
			Category: "escrow_payout",
			Gross:    payout,
			Burned:   burned,
			Settlement: burn.Settlement{
				ID:       uuid.NewString(),
				PayerID:  wallet.HouseOwnerID,
				PayeeID:  entry.OwnerID,
				Gross:    payout,
				Net:      net,
				Burned:   burned,
				Category: "escrow_payout",
			},
		}
	}

	if _, err := m.engine.Apply(ctx, "escrow_release", mut); err != nil {
		return domescrow.Entry{}, err
	}

	entry.Status = domescrow.StatusReleased
	entry.Resolution = "won"
	entry.Payout = payout
	entry.ResolvedAt = m.now()
	m.log.WithField("session", entry.SessionID).WithField("payout", payout).Info("escrow released")
	m.markSessionResolved(ctx, entry.SessionID)
	m.publish(ctx, entry)
	return entry, nil
}

// Forfeit resolves a lost session: the stake moves from escrow to the
// house.
func (m *Manager) Forfeit(ctx context.Context, sessionID, resolution string) (domescrow.Entry, error) {
	if strings.TrimSpace(resolution) == "" {
		resolution = "lost"
	}
	return m.resolveToHouse(ctx, sessionID, domescrow.StatusForfeited, resolution)
}

// Cancel voids a session before play: the stake refunds to the owner.
func (m *Manager) Cancel(ctx context.Context, sessionID, resolution string) (domescrow.Entry, error) {
	if strings.TrimSpace(resolution) == "" {
		resolution = "cancelled"
	}
	return m.refundOwner(ctx, sessionID, domescrow.StatusCancelled, resolution)
}

// SweepExpired refunds every locked session past its expiry. Called by the
// scheduler; each session resolves independently so one failure does not
// stall the rest.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredEscrows(ctx, m.now())
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, e := range expired {
		if _, err := m.refundOwner(ctx, e.SessionID, domescrow.StatusExpired, "ttl elapsed"); err != nil {
			if ledgererr.KindOf(err) == ledgererr.KindAlreadyResolved {
				continue
			}
			m.log.WithError(err).WithField("session", e.SessionID).Warn("expiry sweep failed for session")
			continue
		}
		swept++
	}
	if swept > 0 {
		m.log.WithField("expired", swept).Info("expired escrows refunded")
	}
	return swept, nil
}

// Get returns one session entry.
func (m *Manager) Get(ctx context.Context, sessionID string) (domescrow.Entry, error) {
	return m.store.GetEscrow(ctx, strings.TrimSpace(sessionID))
}

// List returns entries filtered by status; an empty status lists all.
func (m *Manager) List(ctx context.Context, status domescrow.Status) ([]domescrow.Entry, error) {
	return m.store.ListEscrows(ctx, status)
}

func (m *Manager) resolveToHouse(ctx context.Context, sessionID string, to domescrow.Status, resolution string) (domescrow.Entry, error) {
	entry, err := m.store.GetEscrow(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domescrow.Entry{}, err
	}
	_, err = m.engine.Apply(ctx, "escrow_"+string(to), storage.Mutation{
		Legs: []wallet.Leg{
			{
				OwnerID:   wallet.EscrowOwnerID,
				Direction: wallet.Debit,
				Amount:    entry.Stake,
				Source:    wallet.SourceEscrowForfeit,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			},
			{
				OwnerID:   wallet.HouseOwnerID,
				Direction: wallet.Credit,
				Amount:    entry.Stake,
				Source:    wallet.SourceEscrowForfeit,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			},
		},
		Escrow: &domescrow.Transition{SessionID: entry.SessionID, To: to, Resolution: resolution},
	})
	if err != nil {
		return domescrow.Entry{}, err
	}
	entry.Status = to
	entry.Resolution = resolution
	entry.ResolvedAt = m.now()
	m.log.WithField("session", entry.SessionID).WithField("status", string(to)).Info("escrow resolved to house")
	m.markSessionResolved(ctx, entry.SessionID)
	m.publish(ctx, entry)
	return entry, nil
}

func (m *Manager) refundOwner(ctx context.Context, sessionID string, to domescrow.Status, resolution string) (domescrow.Entry, error) {
	entry, err := m.store.GetEscrow(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domescrow.Entry{}, err
	}
	_, err = m.engine.Apply(ctx, "escrow_"+string(to), storage.Mutation{
		Legs: []wallet.Leg{
			{
				OwnerID:   wallet.EscrowOwnerID,
				Direction: wallet.Debit,
				Amount:    entry.Stake,
				Source:    wallet.SourceEscrowRefund,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			},
			{
				OwnerID:   entry.OwnerID,
				Direction: wallet.Credit,
				Amount:    entry.Stake,
				Source:    wallet.SourceEscrowRefund,
				RefID:     entry.SessionID,
				RefType:   "escrow",
			},
		},
		Escrow: &domescrow.Transition{SessionID: entry.SessionID, To: to, Resolution: resolution},
	})
	if err != nil {
		return domescrow.Entry{}, err
	}
	entry.Status = to
	entry.Resolution = resolution
	entry.ResolvedAt = m.now()
	m.log.WithField("session", entry.SessionID).WithField("status", string(to)).Info("escrow refunded to owner")
	m.markSessionResolved(ctx, entry.SessionID)
	m.publish(ctx, entry)
	return entry, nil
}

// markSessionResolved flags the session's RNG commitment as resolved so
// its server secret becomes revealable. Best effort.
func (m *Manager) markSessionResolved(ctx context.Context, sessionID string) {
	if m.fairness == nil {
		return
	}
	c, err := m.fairness.LatestCommitForSession(ctx, sessionID)
	if err != nil {
		return
	}
	if c.Resolved {
		return
	}
	c.Resolved = true
	if _, err := m.fairness.UpdateCommit(ctx, c); err != nil {
		m.log.WithError(err).WithField("session", sessionID).Warn("marking commit resolved failed")
	}
}

func (m *Manager) publish(ctx context.Context, entry domescrow.Entry) {
	event := events.EscrowEvent{
		SessionID:  entry.SessionID,
		OwnerID:    entry.OwnerID,
		Stake:      entry.Stake,
		Payout:     entry.Payout,
		Status:     string(entry.Status),
		Resolution: entry.Resolution,
		At:         m.now(),
	}
	if err := m.pub.Publish(ctx, events.TopicEscrow, event); err != nil {
		m.log.WithError(err).WithField("session", entry.SessionID).Warn("escrow event publish failed")
	}
}

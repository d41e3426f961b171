// Package wallet holds the core balance models: the per-owner wallet row
// and the append-only journal entry that records every balance change.
package wallet

import "time"

// Reserved system owners. These wallets are created once at startup and are
// never implicitly recreated.
const (
	SinkOwnerID   = "sys:burn"
	EscrowOwnerID = "sys:escrow"
	HouseOwnerID  = "sys:house"
)

// Wallet is the single balance record for an owner. Balances are integers
// in the smallest indivisible unit and never go negative.
type Wallet struct {
	OwnerID       string    `json:"owner_id"`
	Balance       int64     `json:"balance"`
	StreakDays    int       `json:"streak_days"`
	LongestStreak int       `json:"longest_streak"`
	LastClaimAt   time.Time `json:"last_claim_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Direction marks which side of the ledger an entry sits on.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// JournalEntry is an immutable record of one balance change. Once written
// it is never updated or deleted. BalanceAfter always equals BalanceBefore
// plus or minus Amount, consistent with Direction.
type JournalEntry struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	Direction     Direction         `json:"direction"`
	Amount        int64             `json:"amount"`
	Source        Source            `json:"source"`
	RefID         string            `json:"ref_id,omitempty"`
	RefType       string            `json:"ref_type,omitempty"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Leg is one pending balance change inside an atomic mutation. AllowCreate
// permits lazy wallet creation for credits; debits against a missing wallet
// always fail.
type Leg struct {
	OwnerID     string
	Direction   Direction
	Amount      int64
	Source      Source
	RefID       string
	RefType     string
	Metadata    map[string]string
	AllowCreate bool
}

// StreakUpdate adjusts streak bookkeeping in the same atomic unit as a
// mint, so a daily claim can never be observed without its streak advance.
// DailyClaim marks the update as a once-per-UTC-day claim: the store
// rejects the whole mutation with AlreadyResolved when the wallet's
// recorded last claim already falls on the same UTC day as LastClaimAt.
// The check runs under the store's lock, so two racing claims cannot both
// commit.
type StreakUpdate struct {
	OwnerID       string
	StreakDays    int
	LongestStreak int
	LastClaimAt   time.Time
	DailyClaim    bool
}

// SameUTCDay reports whether two instants fall on the same UTC calendar
// day.
func SameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

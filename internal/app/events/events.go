// Package events defines the outbound event stream for ledger activity.
// Publishing is best-effort: a failed publish is logged and never rolls
// back the mutation that produced it.
package events

import (
	"context"
	"time"
)

// Topics carried on the stream.
const (
	TopicJournal    = "diamond.journal"
	TopicSettlement = "diamond.settlements"
	TopicEscrow     = "diamond.escrow"
	TopicFreeze     = "diamond.freeze"
)

// JournalEvent mirrors one journal entry.
type JournalEvent struct {
	EntryID       string            `json:"entry_id"`
	OwnerID       string            `json:"owner_id"`
	Direction     string            `json:"direction"`
	Amount        int64             `json:"amount"`
	Source        string            `json:"source"`
	RefID         string            `json:"ref_id,omitempty"`
	RefType       string            `json:"ref_type,omitempty"`
	BalanceAfter  int64             `json:"balance_after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// SettlementEvent mirrors one fee-burn settlement.
type SettlementEvent struct {
	SettlementID string    `json:"settlement_id"`
	PayerID      string    `json:"payer_id,omitempty"`
	PayeeID      string    `json:"payee_id"`
	Gross        int64     `json:"gross"`
	Net          int64     `json:"net"`
	Burned       int64     `json:"burned"`
	Category     string    `json:"category"`
	CreatedAt    time.Time `json:"created_at"`
}

// EscrowEvent mirrors one escrow lifecycle change.
type EscrowEvent struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Stake      int64     `json:"stake"`
	Payout     int64     `json:"payout"`
	Status     string    `json:"status"`
	Resolution string    `json:"resolution,omitempty"`
	At         time.Time `json:"at"`
}

// FreezeEvent mirrors the freeze flag flipping either way.
type FreezeEvent struct {
	Frozen bool      `json:"frozen"`
	Reason string    `json:"reason,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers events to the stream.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Noop discards everything. Used when no brokers are configured.
type Noop struct{}

var _ Publisher = Noop{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }

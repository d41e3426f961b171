// Package reconcile models the auditor's outputs: point-in-time snapshots
// of the aggregate invariants and the persisted freeze flag.
package reconcile

import "time"

// Health classifies a snapshot's variance.
type Health string

const (
	HealthBalanced Health = "balanced"
	HealthMinor    Health = "minor_variance"
	HealthCritical Health = "critical"
)

// Snapshot is one audit pass over the whole ledger.
type Snapshot struct {
	ID          string `json:"id"`
	Credits     int64  `json:"credits"`
	Debits      int64  `json:"debits"`
	NetMinted   int64  `json:"net_minted"`
	WalletTotal int64  `json:"wallet_total"` // sum of balances excluding the burn sink
	SinkBalance int64  `json:"sink_balance"`
	Allocated   int64  `json:"allocated"` // WalletTotal + SinkBalance
	Variance    int64  `json:"variance"`  // NetMinted - Allocated
	Health      Health `json:"health"`

	// Burn-rate companion check: observed destroyed total against the
	// rate implied by settled gross volume.
	SettledGross  int64 `json:"settled_gross"`
	TotalBurned   int64 `json:"total_burned"`
	ExpectedBurn  int64 `json:"expected_burn"`
	BurnRateDrift int64 `json:"burn_rate_drift"`
	BurnRateOK    bool  `json:"burn_rate_ok"`

	Frozen    bool      `json:"frozen"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Freeze is the persisted global mutation gate. Once set it blocks every
// mutating ledger operation until an operator clears it with a note.
type Freeze struct {
	Frozen    bool      `json:"frozen"`
	Reason    string    `json:"reason,omitempty"`
	FrozenAt  time.Time `json:"frozen_at"`
	ClearedAt time.Time `json:"cleared_at"`
	Note      string    `json:"note,omitempty"`
}

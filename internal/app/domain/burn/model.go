// Package burn models the fee-burn protocol's aggregate state: the
// singleton sink counters and the settlement audit records that link the
// journal entries of each three-way split.
package burn

import "time"

// RatePercent is the fixed burn rate applied to every settlement.
const RatePercent = 25

// MinBurnGross is the smallest gross amount that must burn at least one
// unit even when the percentage floors to zero.
const MinBurnGross = 4

// Split computes the destroyed and net shares of a gross amount. For any
// gross >= 0, burned+net == gross.
func Split(gross int64) (burned, net int64) {
	if gross <= 0 {
		return 0, gross
	}
	burned = gross * RatePercent / 100
	if burned == 0 && gross >= MinBurnGross {
		burned = 1
	}
	return burned, gross - burned
}

// Sink is the singleton aggregate of everything ever destroyed. A reserved
// wallet mirrors TotalBurned so the auditor can cross-check the two.
type Sink struct {
	TotalBurned   int64            `json:"total_burned"`
	TotalGross    int64            `json:"total_gross"`
	ByCategory    map[string]int64 `json:"by_category"`
	LastBurnAt    time.Time        `json:"last_burn_at"`
	LastBurnedAmt int64            `json:"last_burned_amount"`
	LastCategory  string           `json:"last_category,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Settlement is the audit record tying together the journal entries of one
// fee-burn split. Appended atomically with its legs.
type Settlement struct {
	ID         string    `json:"id"`
	PayerID    string    `json:"payer_id,omitempty"`
	PayeeID    string    `json:"payee_id"`
	Gross      int64     `json:"gross"`
	Net        int64     `json:"net"`
	Burned     int64     `json:"burned"`
	Category   string    `json:"category"`
	JournalIDs []string  `json:"journal_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is the rider applied with a mutation: it advances the sink
// counters and persists the settlement in the same atomic unit.
type Record struct {
	Category   string
	Gross      int64
	Burned     int64
	Settlement Settlement
}

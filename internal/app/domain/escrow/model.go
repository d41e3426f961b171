// Package escrow models time-boxed wager holdings. Entries move from
// Locked to exactly one terminal state and never back.
package escrow

import "time"

// Status is the escrow lifecycle state.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusReleased  Status = "released"
	StatusForfeited Status = "forfeited"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s is one of the four final states.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusForfeited, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Entry is one staked wager session.
type Entry struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Stake      int64     `json:"stake"`
	Payout     int64     `json:"payout"`
	Status     Status    `json:"status"`
	Resolution string    `json:"resolution,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Expired reports whether a still-locked entry has passed its expiry.
func (e Entry) Expired(now time.Time) bool {
	return e.Status == StatusLocked && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Transition is the rider applied with a mutation: a compare-and-set from
// Locked to a terminal state in the same atomic unit as the fund moves. A
// conflicting status aborts the whole unit.
type Transition struct {
	SessionID  string
	To         Status
	Resolution string
	ResolvedAt time.Time
}

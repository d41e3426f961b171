// Package fairness models provably-fair RNG commitments: the server secret
// stays hidden until the session resolves, at which point any client can
// re-derive the published hash and roll.
package fairness

import "time"

// Commit is one committed roll. ServerSecret is only exposed through
// Reveal after the session has resolved.
type Commit struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ServerSecret   string    `json:"server_secret,omitempty"` // hex, withheld until reveal
	ServerSeedHash string    `json:"server_seed_hash"`        // sha256(serverSecret), published at commit time
	ClientSeed     string    `json:"client_seed"`
	Nonce          int64     `json:"nonce"`
	Roll           float64   `json:"roll"`
	Revealed       bool      `json:"revealed"`
	Resolved       bool      `json:"resolved"`
	CreatedAt      time.Time `json:"created_at"`
	RevealedAt     time.Time `json:"revealed_at"`
}

// Package fairness implements the provably-fair RNG oracle. The server
// commits to a secret by publishing its hash before play; once the session
// resolves the secret is revealed so anyone can re-derive the roll.
package fairness

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/fairness"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// secretBytes is the entropy behind each commitment.
const secretBytes = 32

// Service issues and reveals RNG commitments.
type Service struct {
	store storage.FairnessStore
	log   *logger.Logger

	now func() time.Time
}

func NewService(store storage.FairnessStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fairness")
	}
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Commit draws a fresh server secret for the session and stores the
// commitment. The nonce increments per session so repeated commits with
// the same seeds still produce distinct rolls. The returned commit carries
// the secret; callers exposing it publicly must withhold ServerSecret and
// Roll until reveal.
func (s *Service) Commit(ctx context.Context, sessionID, clientSeed string) (fairness.Commit, error) {
	session := strings.TrimSpace(sessionID)
	if session == "" {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindNotFound, "session id is required")
	}
	clientSeed = strings.TrimSpace(clientSeed)
	if clientSeed == "" {
		clientSeed = "default"
	}

	nonce := int64(1)
	if prev, err := s.store.LatestCommitForSession(ctx, session); err == nil {
		nonce = prev.Nonce + 1
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return fairness.Commit{}, fmt.Errorf("draw server secret: %w", err)
	}
	secretHex := hex.EncodeToString(secret)

	commit := fairness.Commit{
		SessionID:      session,
		ServerSecret:   secretHex,
		ServerSeedHash: HashSecret(secretHex),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		Roll:           Roll(secretHex, clientSeed, nonce),
		CreatedAt:      s.now(),
	}
	stored, err := s.store.CreateCommit(ctx, commit)
	if err != nil {
		return fairness.Commit{}, err
	}
	s.log.WithField("session", session).WithField("nonce", nonce).Info("rng commitment issued")
	return stored, nil
}

// Reveal exposes the server secret of a resolved session's latest
// commitment. Revealing before resolution is refused so the secret cannot
// leak while the outcome is still in play.
func (s *Service) Reveal(ctx context.Context, sessionID string) (fairness.Commit, error) {
	commit, err := s.store.LatestCommitForSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return fairness.Commit{}, err
	}
	if !commit.Resolved {
		return fairness.Commit{}, ledgererr.New(ledgererr.KindNotFound, "server seed for session %s is withheld until the session resolves", commit.SessionID)
	}
	if commit.Revealed {
		return commit, nil
	}
	commit.Revealed = true
	commit.RevealedAt = s.now()
	updated, err := s.store.UpdateCommit(ctx, commit)
	if err != nil {
		return fairness.Commit{}, err
	}
	s.log.WithField("session", commit.SessionID).Info("server seed revealed")
	return updated, nil
}

// Commitment returns the session's latest commitment with the secret and
// roll withheld unless already revealed.
func (s *Service) Commitment(ctx context.Context, sessionID string) (fairness.Commit, error) {
	commit, err := s.store.LatestCommitForSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return fairness.Commit{}, err
	}
	if !commit.Revealed {
		commit.ServerSecret = ""
		commit.Roll = 0
	}
	return commit, nil
}

// VerifyResult reports an independent re-derivation of a revealed roll.
type VerifyResult struct {
	ServerSeedHash string  `json:"server_seed_hash"`
	Roll           float64 `json:"roll"`
	HashMatches    bool    `json:"hash_matches"`
}

// Verify recomputes the published hash and roll from a revealed secret so
// clients can check the outcome without trusting the server.
func Verify(serverSecret, serverSeedHash, clientSeed string, nonce int64) VerifyResult {
	hash := HashSecret(serverSecret)
	return VerifyResult{
		ServerSeedHash: hash,
		Roll:           Roll(serverSecret, clientSeed, nonce),
		HashMatches:    hash == strings.ToLower(strings.TrimSpace(serverSeedHash)),
	}
}

// HashSecret returns the published commitment for a server secret.
func HashSecret(serverSecret string) string {
	sum := sha256.Sum256([]byte(serverSecret))
	return hex.EncodeToString(sum[:])
}

// Roll derives the uniform result in [0, 1) from the commitment inputs:
// the first eight bytes of HMAC-SHA256(serverSecret, clientSeed:nonce)
// interpreted as a big-endian fraction.
func Roll(serverSecret, clientSeed string, nonce int64) float64 {
	mac := hmac.New(sha256.New, []byte(serverSecret))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	sum := mac.Sum(nil)
	return rollValue(binary.BigEndian.Uint64(sum[:8]))
}

// rollValue keeps the top 52 bits so the quotient is exact and stays
// strictly below one; a full 64-bit numerator can round up to 1.0.
func rollValue(v uint64) float64 {
	return float64(v>>12) / float64(1<<52)
}

package streak

import (
	"context"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
)

// SweepExpired resets the streak of every wallet whose last claim fell out
// of the grace window. Returns how many wallets were reset. Runs from the
// scheduler; reads are consistent enough that a claim racing the sweep
// simply wins on its own row.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	reset := 0
	for _, w := range wallets {
		if w.StreakDays == 0 || w.LastClaimAt.IsZero() {
			continue
		}
		if now.Sub(w.LastClaimAt) <= s.grace {
			continue
		}
		if _, err := s.store.UpdateStreak(ctx, wallet.StreakUpdate{
			OwnerID:       w.OwnerID,
			StreakDays:    0,
			LongestStreak: w.LongestStreak,
			LastClaimAt:   w.LastClaimAt,
		}); err != nil {
			s.log.WithError(err).WithField("owner", w.OwnerID).Warn("streak reset failed")
			continue
		}
		reset++
	}
	if reset > 0 {
		s.log.WithField("reset", reset).Info("lapsed streaks cleared")
	}
	return reset, nil
}

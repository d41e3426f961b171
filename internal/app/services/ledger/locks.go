package ledger

import (
	"sort"
	"sync"

	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
)

// lockTable serializes mutations per owner without blocking. Acquisition is
// attempted in sorted owner order with TryLock; the first contended owner
// aborts the whole acquisition so callers fail fast with resource_busy.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) get(owner string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[owner]
	if !ok {
		m = &sync.Mutex{}
		t.locks[owner] = m
	}
	return m
}

// acquire takes the lock of every owner or none. The returned release
// function is safe to call exactly once.
func (t *lockTable) acquire(owners []string) (func(), error) {
	sorted := make([]string, 0, len(owners))
	seen := make(map[string]bool, len(owners))
	for _, owner := range owners {
		if !seen[owner] {
			seen[owner] = true
			sorted = append(sorted, owner)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, owner := range sorted {
		m := t.get(owner)
		if !m.TryLock() {
			for _, h := range held {
				h.Unlock()
			}
			return nil, ledgererr.ResourceBusy(owner)
		}
		held = append(held, m)
	}
	return func() {
		for _, h := range held {
			h.Unlock()
		}
	}, nil
}

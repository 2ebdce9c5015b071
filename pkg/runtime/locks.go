package runtime

import (
	"sync"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
)

// lockTable hands out per-account reader/writer locks. Transactions touching
// disjoint writable accounts run in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*accountLock
}

type accountLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[types.Pubkey]*accountLock)}
}

// acquire locks keys in ascending order, writable keys exclusively, and returns
// the matching release function.
func (t *lockTable) acquire(keys []types.Pubkey, writable map[types.Pubkey]bool) func() {
	sorted := append([]types.Pubkey(nil), keys...)
	accounts.SortPubkeys(sorted)

	held := make([]*accountLock, len(sorted))
	t.mu.Lock()
	for i, k := range sorted {
		l, ok := t.locks[k]
		if !ok {
			l = &accountLock{}
			t.locks[k] = l
		}
		l.refs++
		held[i] = l
	}
	t.mu.Unlock()

	for i, l := range held {
		if writable[sorted[i]] {
			l.Lock()
		} else {
			l.RLock()
		}
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			if writable[sorted[i]] {
				held[i].Unlock()
			} else {
				held[i].RUnlock()
			}
		}
		t.mu.Lock()
		for i, l := range held {
			l.refs--
			if l.refs == 0 {
				delete(t.locks, sorted[i])
			}
		}
		t.mu.Unlock()
	}
}

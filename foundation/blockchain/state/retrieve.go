package state

import (
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// RetrieveMempool returns a copy of the mempool.
func (s *State) RetrieveMempool() []database.BlockTx {
	return s.mempool.Copy()
}

// RetrieveMempoolLength returns the current length of the mempool.
func (s *State) RetrieveMempoolLength() int {
	return s.mempool.Count()
}

// RetrieveBalance returns the effective balance of the account at the tip.
func (s *State) RetrieveBalance(accountID int64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accounts.EffectiveBalance(accountID, s.tip.Height)
}

// RetrieveCacheSize returns the number of key and POS blocks held in the
// block cache.
func (s *State) RetrieveCacheSize() (keys int, pos int) {
	return s.cache.Size()
}

package state

import (
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// UpsertMempool accepts a payment for inclusion in a future block. The
// sender must be able to cover it at the tip.
func (s *State) UpsertMempool(tx database.BlockTx) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.accounts.ValidateTx(tx); err != nil {
		return 0, err
	}

	n := s.mempool.Upsert(tx)
	s.ev("state: UpsertMempool: tx[%s]: pool[%d]", tx, n)

	return n, nil
}

// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"sort"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// Mempool represents a cache of payment transactions waiting to be placed
// into a block, keyed by transaction id.
type Mempool struct {
	pool map[int64]database.BlockTx
	mu   sync.RWMutex
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[int64]database.BlockTx),
	}
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction from the mempool.
func (mp *Mempool) Upsert(tx database.BlockTx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[tx.ID()] = tx

	return len(mp.pool)
}

// Delete removed a transaction from the mempool.
func (mp *Mempool) Delete(tx database.BlockTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, tx.ID())
}

// DeleteBlock removes the transactions a block carried.
func (mp *Mempool) DeleteBlock(b *database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range b.Txs {
		delete(mp.pool, tx.ID())
	}
}

// Restore puts the payments of a popped block back into the pool.
func (mp *Mempool) Restore(b *database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range b.Txs {
		if tx.Type == database.TxPayment {
			mp.pool[tx.ID()] = tx
		}
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[int64]database.BlockTx)
}

// Copy returns the transactions in the pool ordered by timestamp.
func (mp *Mempool) Copy() []database.BlockTx {
	mp.mu.RLock()
	txs := make([]database.BlockTx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}
	mp.mu.RUnlock()

	sort.Sort(byTime(txs))
	return txs
}

// PickBest returns the next set of transactions for the next block, best
// fee first. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	txs := mp.Copy()
	sort.Stable(byFee(txs))

	if howMany >= 0 && howMany < len(txs) {
		txs = txs[:howMany]
	}

	return txs
}

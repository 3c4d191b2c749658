package mempool

import "github.com/ardanlabs/hybridchain/foundation/blockchain/database"

// byTime provides sorting support by the transaction timestamp, falling back
// to the id so the order is stable across calls.
type byTime []database.BlockTx

func (bt byTime) Len() int {
	return len(bt)
}

func (bt byTime) Less(i, j int) bool {
	if bt[i].Timestamp != bt[j].Timestamp {
		return bt[i].Timestamp < bt[j].Timestamp
	}
	return bt[i].ID() < bt[j].ID()
}

func (bt byTime) Swap(i, j int) {
	bt[i], bt[j] = bt[j], bt[i]
}

// =============================================================================

// byFee provides sorting support by the fee value, highest first.
type byFee []database.BlockTx

func (bf byFee) Len() int {
	return len(bf)
}

func (bf byFee) Less(i, j int) bool {
	return bf[i].Fee > bf[j].Fee
}

func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}

package state

import (
	"fmt"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/cache"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/target"
)

// KeyBlockTemplate constructs an unmined key block on top of the tip paying
// the coinbase to the miner. Payments from the mempool the accounts can
// cover are carried along. The caller performs the proof of work and pushes
// the result.
func (s *State) KeyBlockTemplate(minerID int64, forgersRoot [32]byte) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bits, err := s.nextBits()
	if err != nil {
		return nil, err
	}

	ts := max(s.now(), s.tip.Timestamp+1)

	txs := []database.BlockTx{database.NewCoinbaseTx(ts, minerID, s.params.KeyBlockReward)}
	for _, tx := range s.mempool.PickBest(s.params.MaxPayloadTxs) {
		if err := s.accounts.ValidateTx(tx); err != nil {
			continue
		}
		txs = append(txs, tx)
	}

	blk, err := database.NewKeyBlock(s.tip, s.lastPos, s.lastKey, ts, bits, forgersRoot, txs)
	if err != nil {
		return nil, err
	}

	// Payments picked one by one may still conflict with each other.
	if err := s.accounts.ValidateBlockTxs(blk); err != nil {
		return database.NewKeyBlock(s.tip, s.lastPos, s.lastKey, ts, bits, forgersRoot, txs[:1])
	}

	return blk, nil
}

// NextBits returns the compact target the next key block must meet.
func (s *State) NextBits() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextBits()
}

// =============================================================================

// nextBits assumes the chain lock is held.
func (s *State) nextBits() (uint32, error) {
	if s.lastKey == nil {
		return target.Next(s.params, nil, nil)
	}

	last := keyHeader(s.lastKey)
	bits, err := target.Next(s.params, &last, keyChain{cache: s.cache})
	if err != nil {
		return 0, fmt.Errorf("next bits: %w", err)
	}

	return bits, nil
}

// keyChain walks older key blocks for the retarget.
type keyChain struct {
	cache *cache.Cache
}

// KeyHeaderAt implements target.Chain.
func (kc keyChain) KeyHeaderAt(local uint64) (target.Header, error) {
	blk, err := kc.cache.KeyBlockAtLocalHeight(local)
	if err != nil {
		return target.Header{}, err
	}

	return keyHeader(blk), nil
}

func keyHeader(b *database.Block) target.Header {
	return target.Header{
		LocalHeight: b.LocalHeight,
		Timestamp:   b.Timestamp,
		Bits:        b.Bits,
	}
}

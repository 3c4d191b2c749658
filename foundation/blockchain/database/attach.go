package database

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// PosFinder provides access to older POS blocks on the branch a block is
// being attached to.
type PosFinder interface {
	PosBlockAtLocalHeight(localHeight uint64) (*Block, error)
}

// SetPrevious links the block to the branch it extends and derives its
// height, local height, base target and difficulty values. The posPrev block
// is the latest POS block on the branch and keyPrev the latest key block,
// which is nil before the first key block. The predecessor is whichever of
// the two is higher.
func (b *Block) SetPrevious(p consensus.Params, posPrev *Block, keyPrev *Block, finder PosFinder) error {
	if posPrev == nil {
		return errors.New("attach: pos predecessor required")
	}

	pred := posPrev
	if keyPrev != nil && keyPrev.Height > pred.Height {
		pred = keyPrev
	}

	if pred.ID() != b.PreviousBlockID {
		return NewBlockError(ErrBlockNotCurrentlyValid, b.id, "previous block %s does not match predecessor %s", signature.StringID(b.PreviousBlockID), pred.StringID())
	}

	b.Height = pred.Height + 1

	if b.IsKey() {
		var keyPrevID int64
		var local uint64
		if keyPrev != nil {
			keyPrevID = keyPrev.ID()
			local = keyPrev.LocalHeight + 1
		}

		if b.PreviousKeyBlockID != keyPrevID {
			return NewBlockError(ErrBlockNotCurrentlyValid, b.id, "previous key block %s does not match %s", signature.StringID(b.PreviousKeyBlockID), signature.StringID(keyPrevID))
		}

		b.LocalHeight = local
		b.BaseTarget = uint64(b.Bits)

		// The stake batch restarts from the stake target of the POS block the
		// key block closes. Genesis carries no stake.
		b.StakeBatchDifficulty = new(big.Int)
		if posPrev.Height > 0 {
			b.StakeBatchDifficulty = consensus.NormalizedStakeTarget(posPrev.BaseTarget)
		}

		b.CumulativeDifficulty = new(big.Int).Add(pred.CumulativeDifficulty, keyStep(b))

		return nil
	}

	b.LocalHeight = posPrev.LocalHeight + 1

	bt, err := nextBaseTarget(p, b, posPrev, finder)
	if err != nil {
		return err
	}
	b.BaseTarget = bt

	b.StakeBatchDifficulty = new(big.Int).Add(pred.StakeBatchDifficulty, consensus.NormalizedStakeTarget(bt))

	work, basis := workBasis(p, keyPrev)
	b.CumulativeDifficulty = new(big.Int).Add(basis, consensus.DifficultyStep(work, b.StakeBatchDifficulty))

	return nil
}

// =============================================================================

// keyStep returns what a key block adds to the cumulative difficulty of its
// predecessor. A key block closing an empty stake batch still adds its work.
func keyStep(key *Block) *big.Int {
	batch := key.StakeBatchDifficulty
	if batch.Sign() == 0 {
		batch = big.NewInt(1)
	}

	return consensus.DifficultyStep(consensus.Work(key.Bits), batch)
}

// workBasis returns the work factor and basis difficulty POS blocks
// accumulate on. After a key block the basis is the difficulty the key block
// was attached to. Before any key block the basis is zero and the work
// factor is the work of the proof of work limit.
func workBasis(p consensus.Params, keyPrev *Block) (*big.Int, *big.Int) {
	if keyPrev == nil {
		return consensus.Work(p.PowLimitBits), new(big.Int)
	}

	basis := new(big.Int).Sub(keyPrev.CumulativeDifficulty, keyStep(keyPrev))
	return consensus.Work(keyPrev.Bits), basis
}

// nextBaseTarget applies the POS retarget rule. Blocks at an odd local
// height keep the previous base target. At an even local height the
// average block time since the POS block three back moves the target up
// when blocks are slow and down by the gamma percentage when they're fast.
func nextBaseTarget(p consensus.Params, b *Block, posPrev *Block, finder PosFinder) (uint64, error) {
	prev := posPrev.BaseTarget
	local := b.LocalHeight

	if local%2 == 1 {
		return prev, nil
	}

	var refLocal uint64
	if local > 3 {
		refLocal = local - 3
	}

	ref := posPrev
	if refLocal != posPrev.LocalHeight {
		blk, err := finder.PosBlockAtLocalHeight(refLocal)
		if err != nil {
			return 0, fmt.Errorf("retarget: pos block at local height %d: %w", refLocal, err)
		}
		ref = blk
	}

	avg := (b.Timestamp - ref.Timestamp) / 1000 / int64(local-refLocal)
	tbt := p.TargetBlockTime

	var bt uint64
	switch {
	case avg > tbt:
		bt = prev * uint64(min(avg, p.MaxBlocktimeLimit)) / uint64(tbt)

	default:
		dev := uint64(tbt - max(avg, p.MinBlocktimeLimit))
		bt = prev - prev*uint64(p.BaseTargetGamma)*dev/uint64(100*tbt)
	}

	return min(max(bt, p.MinBaseTarget), p.MaxBaseTarget), nil
}

package database

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockData represents what is written to the store and sent over the
// network. The header is the canonical encoding; the remaining fields are
// the values attachment derived.
type BlockData struct {
	ID                   string        `json:"id"`
	Header               hexutil.Bytes `json:"header"`
	BaseTarget           uint64        `json:"base_target"`
	CumulativeDifficulty *big.Int      `json:"cumulative_difficulty"`
	StakeBatchDifficulty *big.Int      `json:"stake_batch_difficulty"`
	Height               uint64        `json:"height"`
	LocalHeight          uint64        `json:"local_height"`
	NextBlockID          *int64        `json:"next_block_id"`
	Txs                  []BlockTx     `json:"txs,omitempty"`
}

// NewBlockData constructs the value to serialize for a block.
func NewBlockData(b *Block) BlockData {
	return BlockData{
		ID:                   b.StringID(),
		Header:               b.Bytes(),
		BaseTarget:           b.BaseTarget,
		CumulativeDifficulty: b.CumulativeDifficulty,
		StakeBatchDifficulty: b.StakeBatchDifficulty,
		Height:               b.Height,
		LocalHeight:          b.LocalHeight,
		NextBlockID:          b.NextBlockID,
		Txs:                  b.Txs,
	}
}

// ToBlock converts block data read from the store into a block. The derived
// values are trusted as persisted.
func ToBlock(bd BlockData) (*Block, error) {
	b, err := Parse(bd.Header, bd.Txs)
	if err != nil {
		return nil, err
	}

	if bd.ID != "" && bd.ID != b.StringID() {
		return nil, fmt.Errorf("stored id %s does not match header id %s", bd.ID, b.StringID())
	}

	b.BaseTarget = bd.BaseTarget
	b.CumulativeDifficulty = orZero(bd.CumulativeDifficulty)
	b.StakeBatchDifficulty = orZero(bd.StakeBatchDifficulty)
	b.Height = bd.Height
	b.LocalHeight = bd.LocalHeight
	b.NextBlockID = bd.NextBlockID

	return b, nil
}

// ParseBlockData converts block data received from a peer into an unattached
// block. Only the header and payload are read; everything else is derived
// again when the block is attached.
func ParseBlockData(bd BlockData) (*Block, error) {
	return Parse(bd.Header, bd.Txs)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

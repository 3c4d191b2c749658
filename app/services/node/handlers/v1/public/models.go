package public

import (
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/generator"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type block struct {
	ID                   string             `json:"id"`
	Kind                 string             `json:"kind"`
	Height               uint64             `json:"height"`
	LocalHeight          uint64             `json:"local_height"`
	Timestamp            int64              `json:"timestamp"`
	PreviousBlockID      string             `json:"previous_block_id"`
	PreviousKeyBlockID   string             `json:"previous_key_block_id,omitempty"`
	Generator            string             `json:"generator"`
	GeneratorName        string             `json:"generator_name"`
	BaseTarget           uint64             `json:"base_target"`
	Bits                 string             `json:"bits,omitempty"`
	CumulativeDifficulty string             `json:"cumulative_difficulty"`
	NextBlockID          *string            `json:"next_block_id"`
	TotalAmount          uint64             `json:"total_amount"`
	TotalFee             uint64             `json:"total_fee"`
	Data                 database.BlockData `json:"data"`
}

func toBlock(b *database.Block, ns *nameservice.NameService) block {
	blk := block{
		ID:                   b.StringID(),
		Kind:                 "pos",
		Height:               b.Height,
		LocalHeight:          b.LocalHeight,
		Timestamp:            b.Timestamp,
		PreviousBlockID:      signature.StringID(b.PreviousBlockID),
		Generator:            signature.StringID(b.GeneratorID()),
		GeneratorName:        ns.Lookup(b.GeneratorID()),
		BaseTarget:           b.BaseTarget,
		CumulativeDifficulty: b.CumulativeDifficulty.String(),
		TotalAmount:          b.TotalAmount(),
		TotalFee:             b.TotalFee(),
		Data:                 database.NewBlockData(b),
	}

	if b.IsKey() {
		blk.Kind = "key"
		blk.PreviousKeyBlockID = signature.StringID(b.PreviousKeyBlockID)
		blk.Bits = hexutil.EncodeUint64(uint64(b.Bits))
	}

	if b.NextBlockID != nil {
		next := signature.StringID(*b.NextBlockID)
		blk.NextBlockID = &next
	}

	return blk
}

func toBlocks(blks []*database.Block, ns *nameservice.NameService) []block {
	out := make([]block, len(blks))
	for i, b := range blks {
		out[i] = toBlock(b, ns)
	}
	return out
}

// =============================================================================

type status struct {
	ChainID              uint16  `json:"chain_id"`
	Height               uint64  `json:"height"`
	Tip                  string  `json:"tip"`
	CumulativeDifficulty string  `json:"cumulative_difficulty"`
	LastKeyBlock         *string `json:"last_key_block"`
	LastPosBlock         string  `json:"last_pos_block"`
	BaseTarget           uint64  `json:"base_target"`
	NextBits             string  `json:"next_bits"`
	Mempool              int     `json:"mempool"`
	CachedKeyBlocks      int     `json:"cached_key_blocks"`
	CachedPosBlocks      int     `json:"cached_pos_blocks"`
	Forging              int     `json:"forging"`
	NextHitTime          *int64  `json:"next_hit_time"`
}

type forger struct {
	Account          string `json:"account"`
	Name             string `json:"name"`
	PublicKey        string `json:"public_key"`
	EffectiveBalance uint64 `json:"effective_balance"`
	Hit              uint64 `json:"hit"`
	HitTime          *int64 `json:"hit_time"`
	Deadline         *int64 `json:"deadline"`
	Tip              string `json:"tip"`
}

func toForger(g generator.Generator, tipTimestamp int64, ns *nameservice.NameService) forger {
	f := forger{
		Account:          signature.StringID(g.AccountID),
		Name:             ns.Lookup(g.AccountID),
		PublicKey:        hexutil.Encode(g.PublicKey),
		EffectiveBalance: g.EffectiveBalance,
		Hit:              g.Hit,
		Tip:              signature.StringID(g.TipID),
	}

	if g.Armed() {
		hitTime := g.HitTime
		deadline := (g.HitTime - tipTimestamp) / 1000
		f.HitTime = &hitTime
		f.Deadline = &deadline
	}

	return f
}

type active struct {
	ForgersRoot string         `json:"forgers_root"`
	Blocks      map[string]int `json:"blocks"`
}

type account struct {
	Account          string `json:"account"`
	Name             string `json:"name"`
	EffectiveBalance uint64 `json:"effective_balance"`
}

type tx struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp"`
	From      string           `json:"from"`
	FromName  string           `json:"from_name"`
	To        string           `json:"to"`
	ToName    string           `json:"to_name"`
	Amount    uint64           `json:"amount"`
	Fee       uint64           `json:"fee"`
	Rewards   map[int64]uint64 `json:"rewards,omitempty"`
}

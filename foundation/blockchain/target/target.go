// Package target computes the proof of work target for the next key block
// using a moving average over the most recent key blocks.
package target

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/btcsuite/btcd/blockchain"
)

// Header is the part of a key block the retarget reads.
type Header struct {
	LocalHeight uint64 // Position among the key blocks.
	Timestamp   int64  // Milliseconds since the epoch.
	Bits        uint32 // Compact target the block was mined at.
}

// Chain provides access to older key blocks while walking backward.
type Chain interface {
	KeyHeaderAt(localHeight uint64) (Header, error)
}

// =============================================================================

// Decode expands a compact target into the full precision integer.
func Decode(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// Encode packs a full precision target into its compact form.
func Encode(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}

// Next returns the compact target the key block following last must meet.
// A nil last means no key block exists yet.
func Next(p consensus.Params, last *Header, chain Chain) (uint32, error) {
	window := p.RetargetWindow

	// Not enough history yet, stay at the easiest difficulty.
	if last == nil || window == 0 || last.LocalHeight < window {
		return p.PowLimitBits, nil
	}

	powLimit := Decode(p.PowLimitBits)

	// Walk backward window blocks keeping a running weighted average of
	// their targets.
	avg := new(big.Int)
	blk := *last
	for count := int64(1); count <= int64(window); count++ {
		t := Decode(blk.Bits)

		switch count {
		case 1:
			avg.Set(t)
		default:
			avg.Mul(avg, big.NewInt(count))
			avg.Add(avg, t)
			avg.Div(avg, big.NewInt(count+1))
		}

		prev, err := chain.KeyHeaderAt(blk.LocalHeight - 1)
		if err != nil {
			return 0, fmt.Errorf("key block at local height %d: %w", blk.LocalHeight-1, err)
		}
		blk = prev
	}

	// blk now holds the key block window blocks behind last.
	timespan := int64(window) * p.KeyBlockSpacing.Milliseconds()
	actual := last.Timestamp - blk.Timestamp

	switch {
	case actual < timespan/3:
		actual = timespan / 3
	case actual > timespan*3:
		actual = timespan * 3
	}

	next := new(big.Int).Mul(avg, big.NewInt(actual))
	next.Div(next, big.NewInt(timespan))

	if next.Cmp(powLimit) > 0 {
		next.Set(powLimit)
	}

	return Encode(next), nil
}

// Satisfies reports if a proof of work hash value meets the compact target.
func Satisfies(hash *big.Int, bits uint32) bool {
	t := Decode(bits)
	if t.Sign() <= 0 {
		return false
	}

	return hash.Cmp(t) <= 0
}

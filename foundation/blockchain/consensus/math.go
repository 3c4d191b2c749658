package consensus

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// two64 is the numerator used to normalize a POS base target.
var two64 = new(big.Int).Lsh(big.NewInt(1), 64)

// Sqrt returns the floor of the square root of n. Fork choice depends on this
// value bit for bit so it never touches floating point.
func Sqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 {
		return new(big.Int)
	}

	return new(big.Int).Sqrt(n)
}

// NormalizedStakeTarget expresses a POS base target as a difficulty value:
// 2^64 / baseTarget. A zero base target yields zero.
func NormalizedStakeTarget(baseTarget uint64) *big.Int {
	if baseTarget == 0 {
		return new(big.Int)
	}

	return new(big.Int).Div(two64, new(big.Int).SetUint64(baseTarget))
}

// Work returns the expected number of hashes needed to solve a key block
// with the specified compact target.
func Work(bits uint32) *big.Int {
	return blockchain.CalcWork(bits)
}

// DifficultyStep returns floor(sqrt(work * stakeBatch)), the amount a block
// adds on top of its basis cumulative difficulty.
func DifficultyStep(work *big.Int, stakeBatch *big.Int) *big.Int {
	return Sqrt(new(big.Int).Mul(work, stakeBatch))
}

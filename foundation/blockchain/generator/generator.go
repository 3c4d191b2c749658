// Package generator forges POS blocks for the stake holders whose keys the
// node holds and tracks the set of recently active forgers.
package generator

import (
	"crypto/ecdsa"
	"math"
	"math/big"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// Generator represents a stake holder forging with this node. The hit values
// are relative to the tip the generator was last armed on.
type Generator struct {
	AccountID        int64
	PublicKey        []byte
	EffectiveBalance uint64
	Hit              uint64
	HitTime          int64 // Epoch milliseconds, math.MaxInt64 when not armed.
	TipID            int64

	privateKey *ecdsa.PrivateKey
}

// newGenerator constructs an idle generator for the private key.
func newGenerator(privateKey *ecdsa.PrivateKey) *Generator {
	pub := signature.PublicKey(privateKey)

	return &Generator{
		AccountID:  signature.AccountID(pub),
		PublicKey:  pub,
		HitTime:    math.MaxInt64,
		privateKey: privateKey,
	}
}

// Armed reports if the generator holds stake and has a hit for its tip.
func (g *Generator) Armed() bool {
	return g.EffectiveBalance > 0 && g.HitTime != math.MaxInt64
}

// arm computes the hit and hit time of the generator on top of the tip. The
// base target comes from the latest POS block on the branch.
func (g *Generator) arm(tip *database.Block, posPrev *database.Block, effectiveBalance uint64) {
	g.TipID = tip.ID()
	g.EffectiveBalance = effectiveBalance
	g.Hit = consensus.CalculateHit(tip.GenerationSequence, g.PublicKey)
	g.HitTime = consensus.HitTime(tip.Timestamp, g.Hit, posPrev.BaseTarget, effectiveBalance)
}

// before reports if the generator comes ahead of the other one. The hit
// divided by the stake is compared by cross multiplication so no precision
// is lost. Ties go to the lower account id.
func (g *Generator) before(other *Generator) bool {
	l := new(big.Int).Mul(new(big.Int).SetUint64(g.Hit), new(big.Int).SetUint64(other.EffectiveBalance))
	r := new(big.Int).Mul(new(big.Int).SetUint64(other.Hit), new(big.Int).SetUint64(g.EffectiveBalance))

	switch l.Cmp(r) {
	case -1:
		return true
	case 1:
		return false
	}

	return g.AccountID < other.AccountID
}

// copy returns a value the caller can't use to forge.
func (g *Generator) copy() Generator {
	cp := *g
	cp.privateKey = nil
	return cp
}

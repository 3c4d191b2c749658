package state

import (
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// Locked is the view of the chain handed out inside an exclusive update
// section. It's only valid until the function it was passed to returns.
type Locked struct {
	s       *State
	changed bool
}

// Update runs the function while holding the chain lock exclusively so a
// read of the tip and the decision to mutate it happen as one step.
func (s *State) Update(fn func(l *Locked) error) error {
	l := Locked{s: s}

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		return fn(&l)
	}()

	// Mining on the old tip is pointless once it changed.
	if l.changed && s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		done()
	}

	return err
}

// Params returns the protocol constants the chain runs with.
func (l *Locked) Params() consensus.Params {
	return l.s.params
}

// Now returns the current epoch time in milliseconds.
func (l *Locked) Now() int64 {
	return l.s.now()
}

// Tip returns the current tip. It must not be changed.
func (l *Locked) Tip() *database.Block {
	return l.s.tip
}

// LastPosBlock returns the latest POS block. It must not be changed.
func (l *Locked) LastPosBlock() *database.Block {
	return l.s.lastPos
}

// LastKeyBlock returns the latest key block or nil before the first one.
func (l *Locked) LastKeyBlock() *database.Block {
	return l.s.lastKey
}

// BlockAtHeight returns the block at the specified height.
func (l *Locked) BlockAtHeight(height uint64) (*database.Block, error) {
	return l.s.cache.BlockAtHeight(height)
}

// EffectiveBalance returns the stake of the account at the tip.
func (l *Locked) EffectiveBalance(accountID int64) uint64 {
	return l.s.accounts.EffectiveBalance(accountID, l.s.tip.Height)
}

// PickTxs returns the best paying transactions from the mempool.
func (l *Locked) PickTxs(howMany int) []database.BlockTx {
	return l.s.mempool.PickBest(howMany)
}

// DropTx removes a transaction from the mempool.
func (l *Locked) DropTx(tx database.BlockTx) {
	l.s.mempool.Delete(tx)
}

// PushBlock validates and adds the block to the chain.
func (l *Locked) PushBlock(b *database.Block) error {
	if err := l.s.pushBlock(b); err != nil {
		return err
	}

	l.changed = true
	return nil
}

// PosBlockAtLocalHeight returns the POS block at the specified local
// height.
func (l *Locked) PosBlockAtLocalHeight(local uint64) (*database.Block, error) {
	return l.s.cache.PosBlockAtLocalHeight(local)
}

// PopLastBlock removes the tip from the chain and returns it.
func (l *Locked) PopLastBlock() (*database.Block, error) {
	blk, err := l.s.popLastBlock()
	if err != nil {
		return nil, err
	}

	l.changed = true
	return blk, nil
}

package state

import (
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// PushBlock takes a block received from a peer or a miner, validates it and
// if that passes, adds the block to the local blockchain.
func (s *State) PushBlock(b *database.Block) error {
	s.mu.Lock()
	err := s.pushBlock(b)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	// If a key block is being mined it needs to stop immediately since it
	// no longer extends the tip. The mining G will not start over until done
	// is called.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		done()
	}

	return nil
}

// =============================================================================

// pushBlock validates the block against the tip and the consensus rules. If
// the block passes, it's attached, stored and applied to the accounts. It
// assumes the chain lock is held.
func (s *State) pushBlock(b *database.Block) error {
	if !b.Finalized() {
		if err := b.Finalize(); err != nil {
			return err
		}
	}

	s.ev("state: pushBlock: started: blk[%s]: prev[%s]: key[%t]: txs[%d]", b.StringID(), signature.StringID(b.PreviousBlockID), b.IsKey(), len(b.Txs))

	if err := s.validateBlock(b); err != nil {
		s.ev("state: pushBlock: rejected: blk[%s]: %s", b.StringID(), err)
		return err
	}

	if err := b.SetPrevious(s.params, s.lastPos, s.lastKey, s.cache); err != nil {
		return err
	}

	if err := s.accounts.ValidateBlockTxs(b); err != nil {
		s.ev("state: pushBlock: rejected: blk[%s]: %s", b.StringID(), err)
		return err
	}

	s.ev("state: pushBlock: write to disk: blk[%s]: height[%d]: local[%d]", b.StringID(), b.Height, b.LocalHeight)

	if err := s.db.SaveBlock(b); err != nil {
		return fmt.Errorf("save block %s: %w", b.StringID(), err)
	}

	s.accounts.ApplyBlock(b)
	s.mempool.DeleteBlock(b)
	s.cache.Add(b)

	s.tip = b
	switch b.IsKey() {
	case true:
		s.lastKey = b
	default:
		s.lastPos = b
	}

	s.notifyPushed(b)
	s.blockEvent(b)

	return nil
}

// validateBlock runs every check that doesn't need the block to be attached.
func (s *State) validateBlock(b *database.Block) error {
	if b.PreviousBlockID != s.tip.ID() {
		known, err := s.db.HasBlock(b.PreviousBlockID)
		if err != nil {
			return err
		}

		if !known {
			return database.NewBlockError(database.ErrBlockOutOfOrder, b.ID(), "previous block %s is unknown", signature.StringID(b.PreviousBlockID))
		}

		return database.NewBlockError(database.ErrBlockNotCurrentlyValid, b.ID(), "previous block %s is not the tip %s", signature.StringID(b.PreviousBlockID), s.tip.StringID())
	}

	if b.Timestamp > s.now()+s.params.MaxFutureDrift {
		return database.NewBlockError(database.ErrBlockNotCurrentlyValid, b.ID(), "timestamp %d is in the future", b.Timestamp)
	}

	if err := b.VerifyPayload(s.params); err != nil {
		return err
	}

	if err := b.VerifySignature(); err != nil {
		return err
	}

	if err := b.VerifyPredecessor(s.tip); err != nil {
		return err
	}

	if err := b.VerifyGenerationSequence(s.tip, s.lastPos); err != nil {
		return err
	}

	if b.IsKey() {
		bits, err := s.nextBits()
		if err != nil {
			return err
		}

		return b.VerifyWork(s.params, bits)
	}

	return s.verifyHit(b)
}

// verifyHit checks the generator of a POS block holds stake and that its hit
// was eligible at the block's timestamp.
func (s *State) verifyHit(b *database.Block) error {
	eb := s.accounts.EffectiveBalance(b.GeneratorID(), s.tip.Height)
	if eb == 0 {
		return database.NewBlockError(database.ErrBlockNotCurrentlyValid, b.ID(), "generator %s has no effective balance", signature.StringID(b.GeneratorID()))
	}

	hit := consensus.CalculateHit(s.tip.GenerationSequence, b.GeneratorPublicKey)
	if !s.params.VerifyHit(hit, eb, s.lastPos.BaseTarget, s.tip.Timestamp, b.Timestamp) {
		return database.NewBlockError(database.ErrBlockNotValid, b.ID(), "hit %d not eligible at %d", hit, b.Timestamp)
	}

	return nil
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(b *database.Block) {
	data, err := json.Marshal(database.NewBlockData(b))
	if err != nil {
		data = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.ev(`viewer: block: {"id":%q,"block":%s}`, b.StringID(), string(data))
}

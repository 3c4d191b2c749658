package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// PopLastBlock removes the tip from the chain and returns it. Its payments
// go back into the mempool.
func (s *State) PopLastBlock() (*database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.popLastBlock()
}

// PopOffTo removes every block above the specified height in a single
// store transaction. The popped blocks are returned tip first.
func (s *State) PopOffTo(height uint64) ([]*database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.popOffTo(height)
}

// ProcessFork evaluates a competing branch. The first block of the branch
// must extend a block on the current chain. The chain is popped back to that
// block and the branch is pushed in order until a block fails. If the blocks
// that were pushed end with a higher cumulative difficulty than the old tip,
// the chain stays on the branch and nil is returned, even when a later block
// of the branch failed validation. Otherwise the popped blocks are restored
// and the push error, or a not currently valid error for a branch that is
// not heavier, is returned.
func (s *State) ProcessFork(branch []*database.Block) error {
	if len(branch) == 0 {
		return errors.New("fork: empty branch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := branch[0]

	common, err := s.cache.BlockByID(first.PreviousBlockID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.NewBlockError(database.ErrBlockOutOfOrder, first.ID(), "fork point %s is unknown", signature.StringID(first.PreviousBlockID))
		}
		return err
	}

	s.ev("state: ProcessFork: started: fork[%s]: height[%d]: blocks[%d]", common.StringID(), common.Height, len(branch))
	defer s.ev("state: ProcessFork: completed")

	curCum := s.tip.CumulativeDifficulty
	curTip := s.tip.StringID()

	popped, err := s.popOffTo(common.Height)
	if err != nil {
		return err
	}

	var pushErr error
	var pushed int
	for _, blk := range branch {
		if pushErr = s.pushBlock(blk.Clone()); pushErr != nil {
			break
		}
		pushed++
	}

	if pushed > 0 && s.tip.CumulativeDifficulty.Cmp(curCum) > 0 {
		s.ev("state: ProcessFork: switched: old[%s]: new[%s]: pushed[%d]: popped[%d]", curTip, s.tip.StringID(), pushed, len(popped))
		if pushErr != nil {
			s.ev("state: ProcessFork: WARNING: branch partially applied: %s", pushErr)
		}
		return nil
	}

	forkCum := s.tip.CumulativeDifficulty

	s.ev("state: ProcessFork: restoring: old[%s]", curTip)

	if _, err := s.popOffTo(common.Height); err != nil {
		return fmt.Errorf("fork: restore: %w", err)
	}

	for i := len(popped) - 1; i >= 0; i-- {
		if err := s.pushBlock(popped[i].Clone()); err != nil {
			return fmt.Errorf("fork: restore blk[%s]: %w", popped[i].StringID(), err)
		}
	}

	if pushErr != nil {
		return pushErr
	}

	return database.NewBlockError(database.ErrBlockNotCurrentlyValid, branch[len(branch)-1].ID(), "fork difficulty %s not above %s", forkCum, curCum)
}

// Rescan rebuilds the accounts and the block cache by replaying the stored
// chain from genesis.
func (s *State) Rescan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ev("state: Rescan: started: height[%d]", s.tip.Height)
	defer s.ev("state: Rescan: completed")

	s.notifyRescanBegin(0)

	if err := s.replay(); err != nil {
		return err
	}

	s.notifyRescanEnd(s.tip)

	return nil
}

// =============================================================================

// popLastBlock assumes the chain lock is held.
func (s *State) popLastBlock() (*database.Block, error) {
	if s.tip.Height == 0 {
		return nil, errors.New("pop: genesis can't be popped")
	}

	popped, err := s.popOffTo(s.tip.Height - 1)
	if err != nil {
		return nil, err
	}

	return popped[0], nil
}

// popOffTo assumes the chain lock is held.
func (s *State) popOffTo(height uint64) ([]*database.Block, error) {
	if height >= s.tip.Height {
		return nil, nil
	}

	// Collect the blocks being removed, tip first.
	popped := []*database.Block{s.tip}
	for blk := s.tip; blk.Height > height+1; {
		prev, err := s.cache.BlockByID(blk.PreviousBlockID)
		if err != nil {
			return nil, fmt.Errorf("pop: %w", err)
		}
		popped = append(popped, prev)
		blk = prev
	}

	lowest := popped[len(popped)-1]

	s.ev("state: popOffTo: height[%d]: from[%s]: blocks[%d]", height, lowest.StringID(), len(popped))

	if _, err := s.db.DeleteBlocksFrom(lowest.ID()); err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}

	for _, blk := range popped {
		s.accounts.RevertBlock(blk)
		s.mempool.Restore(blk)
		s.cache.Remove(blk)
	}

	if err := s.loadTip(); err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}

	for _, blk := range popped {
		s.notifyPopped(blk)
	}

	return popped, nil
}

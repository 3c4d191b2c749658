package state

import (
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// QueryLimit caps the number of blocks a single query returns.
const QueryLimit = 1440

// =============================================================================

// LastBlock returns a copy of the current tip.
func (s *State) LastBlock() *database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tip.Clone()
}

// LastKeyBlock returns a copy of the latest key block. ErrNotFound is
// returned before the first key block.
func (s *State) LastKeyBlock() (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastKey == nil {
		return nil, database.ErrNotFound
	}

	return s.lastKey.Clone(), nil
}

// LastPosBlock returns a copy of the latest POS block.
func (s *State) LastPosBlock() *database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastPos.Clone()
}

// BlockByID returns the block with the specified id.
func (s *State) BlockByID(id int64) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blk, err := s.cache.BlockByID(id)
	if err != nil {
		return nil, err
	}

	return blk.Clone(), nil
}

// BlockAtHeight returns the block at the specified height.
func (s *State) BlockAtHeight(height uint64) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blk, err := s.cache.BlockAtHeight(height)
	if err != nil {
		return nil, err
	}

	return blk.Clone(), nil
}

// BlockAtLocalHeight returns the key or POS block at the specified local
// height.
func (s *State) BlockAtLocalHeight(key bool, local uint64) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blk *database.Block
	var err error

	switch key {
	case true:
		blk, err = s.cache.KeyBlockAtLocalHeight(local)
	default:
		blk, err = s.cache.PosBlockAtLocalHeight(local)
	}

	if err != nil {
		return nil, err
	}

	return blk.Clone(), nil
}

// BlocksAfter returns up to limit blocks above the specified height. The
// limit is capped at QueryLimit.
func (s *State) BlocksAfter(height uint64, limit int) ([]*database.Block, error) {
	if limit <= 0 || limit > QueryLimit {
		limit = QueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.BlocksAfter(height, limit)
}

// GeneratorActivity counts the POS blocks each generator produced in the
// trailing window of POS blocks.
func (s *State) GeneratorActivity(window uint64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var from uint64
	if s.lastPos.LocalHeight >= window {
		from = s.lastPos.LocalHeight - window + 1
	}

	return s.db.GeneratorActivity(from)
}

// Package state is the core API for the blockchain and implements all the
// consensus rules for pushing, popping and choosing between chains.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/accounts"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/cache"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/mempool"
)

// replayBatch is the number of blocks read from the store at a time when
// the accounts are rebuilt.
const replayBatch = 500

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for forging and mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
}

// Accounts represents the account behavior the consensus rules depend on.
type Accounts interface {
	accounts.Provider
	Reset() error
	ValidateTx(tx database.BlockTx) error
	ValidateBlockTxs(b *database.Block) error
	ApplyBlock(b *database.Block)
	RevertBlock(b *database.Block)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Params    consensus.Params
	DB        *database.Database
	Cache     *cache.Cache
	Accounts  Accounts
	Mempool   *mempool.Mempool
	Now       func() int64 // Epoch milliseconds, defaults to Params.Now.
	EvHandler EventHandler
}

// State manages the blockchain database.
type State struct {
	params   consensus.Params
	db       *database.Database
	cache    *cache.Cache
	accounts Accounts
	mempool  *mempool.Mempool
	now      func() int64
	ev       EventHandler

	mu        sync.RWMutex
	tip       *database.Block
	lastKey   *database.Block
	lastPos   *database.Block
	listeners []Listener

	Worker Worker
}

// New constructs the chain state over the block store. An empty store is
// seeded with the genesis block. The accounts are rebuilt by replaying the
// stored chain.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = cfg.Params.Now
	}

	s := State{
		params:   cfg.Params,
		db:       cfg.DB,
		cache:    cfg.Cache,
		accounts: cfg.Accounts,
		mempool:  cfg.Mempool,
		now:      now,
		ev:       ev,
	}

	genesis := database.NewGenesisBlock(cfg.Params)

	stored, err := s.db.BlockAtHeight(0)
	switch {
	case errors.Is(err, database.ErrNotFound):
		ev("state: New: seeding genesis: blk[%s]", genesis.StringID())
		if err := s.db.SaveBlock(genesis); err != nil {
			return nil, fmt.Errorf("save genesis: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("read genesis: %w", err)

	case stored.ID() != genesis.ID():
		return nil, fmt.Errorf("stored genesis %s does not match %s", stored.StringID(), genesis.StringID())
	}

	if err := s.replay(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.ev("state: shutdown: started")
	defer s.ev("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return s.db.Close()
}

// Params returns the protocol constants the chain runs with.
func (s *State) Params() consensus.Params {
	return s.params
}

// Now returns the current epoch time in milliseconds.
func (s *State) Now() int64 {
	return s.now()
}

// =============================================================================

// replay rebuilds the accounts, the block cache and the tip pointers from
// the store. It assumes the caller has exclusive access.
func (s *State) replay() error {
	if err := s.accounts.Reset(); err != nil {
		return fmt.Errorf("replay: reset accounts: %w", err)
	}

	var height uint64
	for {
		blocks, err := s.db.BlocksAfter(height, replayBatch)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}

		for _, blk := range blocks {
			s.accounts.ApplyBlock(blk)
			height = blk.Height
		}

		if len(blocks) < replayBatch {
			break
		}
	}

	if err := s.loadTip(); err != nil {
		return err
	}

	if err := s.cache.Load(s.tip); err != nil {
		return fmt.Errorf("replay: load cache: %w", err)
	}

	s.ev("state: replay: tip[%s]: height[%d]", s.tip.StringID(), s.tip.Height)

	return nil
}

// loadTip reads the tip and the latest block of each type from the store.
func (s *State) loadTip() error {
	tip, err := s.db.LastBlock()
	if err != nil {
		return fmt.Errorf("last block: %w", err)
	}

	lastPos, err := s.db.LastPosBlock()
	if err != nil {
		return fmt.Errorf("last pos block: %w", err)
	}

	lastKey, err := s.db.LastKeyBlock()
	switch {
	case errors.Is(err, database.ErrNotFound):
		lastKey = nil
	case err != nil:
		return fmt.Errorf("last key block: %w", err)
	}

	s.tip = tip
	s.lastPos = lastPos
	s.lastKey = lastKey

	return nil
}

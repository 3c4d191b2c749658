// Package cache keeps a trailing window of recently pushed blocks in memory
// in front of the block store.
package cache

import (
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// EventHandler defines a function that is called when events occur in the
// processing of the cache.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct the cache.
type Config struct {
	DB        *database.Database
	KeyWindow uint64 // Trailing key blocks kept in memory.
	PosWindow uint64 // Trailing POS blocks kept in memory.
	EvHandler EventHandler
}

// Cache holds the trailing windows of key and POS blocks indexed by id,
// height and local height, with their payloads. Lookups outside the windows
// fall through to the store.
type Cache struct {
	db        *database.Database
	keyWindow uint64
	posWindow uint64
	ev        EventHandler

	mu         sync.Mutex
	byID       map[int64]*database.Block
	byHeight   map[uint64]*database.Block
	keyByLocal map[uint64]*database.Block
	posByLocal map[uint64]*database.Block
	txs        map[int64][]database.BlockTx
}

// New constructs an empty cache.
func New(cfg Config) *Cache {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	c := Cache{
		db:        cfg.DB,
		keyWindow: max(cfg.KeyWindow, 1),
		posWindow: max(cfg.PosWindow, 1),
		ev:        ev,
	}
	c.reset()

	return &c
}

// Reset drops every cached block.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
}

func (c *Cache) reset() {
	c.byID = make(map[int64]*database.Block)
	c.byHeight = make(map[uint64]*database.Block)
	c.keyByLocal = make(map[uint64]*database.Block)
	c.posByLocal = make(map[uint64]*database.Block)
	c.txs = make(map[int64][]database.BlockTx)
}

// Load fills the windows from the store ending at the specified tip.
func (c *Cache) Load(tip *database.Block) error {
	c.Reset()

	var blocks []*database.Block
	var keys, pos uint64
	for blk := tip; ; {
		if blk.IsKey() {
			keys++
		} else {
			pos++
		}
		blocks = append(blocks, blk)

		if blk.Height == 0 || (keys >= c.keyWindow && pos >= c.posWindow) {
			break
		}

		prev, err := c.db.BlockByID(blk.PreviousBlockID)
		if err != nil {
			return err
		}
		blk = prev
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		c.Add(blocks[i])
	}

	return nil
}

// Add inserts a pushed block, evicting blocks of the same type that fall out
// of the trailing window. The cached predecessor is linked to the block.
func (c *Cache) Add(b *database.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byLocal, window := c.posByLocal, c.posWindow
	if b.IsKey() {
		byLocal, window = c.keyByLocal, c.keyWindow
	}

	if b.LocalHeight >= window {
		for local, old := range byLocal {
			if local <= b.LocalHeight-window {
				c.remove(old)
			}
		}
	}

	if pred, exists := c.byID[b.PreviousBlockID]; exists {
		pred = pred.Clone()
		next := b.ID()
		pred.NextBlockID = &next
		c.put(pred)
	}

	c.put(b.Clone())

	if uint64(len(byLocal)) > window+1 {
		c.ev("cache: Add: overflow: local[%d]: size[%d]: window[%d]", b.LocalHeight, len(byLocal), window)
	}
}

// Remove drops a popped block. The cached predecessor becomes the final tip.
func (c *Cache) Remove(b *database.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk, exists := c.byID[b.ID()]; exists {
		c.remove(blk)
	}

	if pred, exists := c.byID[b.PreviousBlockID]; exists {
		pred = pred.Clone()
		pred.NextBlockID = nil
		c.put(pred)
	}
}

// Size returns the number of cached key and POS blocks.
func (c *Cache) Size() (keys int, pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.keyByLocal), len(c.posByLocal)
}

// =============================================================================

// BlockByID returns the block with the specified id.
func (c *Cache) BlockByID(id int64) (*database.Block, error) {
	c.mu.Lock()
	blk, exists := c.byID[id]
	c.mu.Unlock()

	if exists {
		return blk, nil
	}

	return c.db.BlockByID(id)
}

// BlockAtHeight returns the block at the specified height.
func (c *Cache) BlockAtHeight(height uint64) (*database.Block, error) {
	c.mu.Lock()
	blk, exists := c.byHeight[height]
	c.mu.Unlock()

	if exists {
		return blk, nil
	}

	return c.db.BlockAtHeight(height)
}

// KeyBlockAtLocalHeight returns the key block at the specified local height.
func (c *Cache) KeyBlockAtLocalHeight(local uint64) (*database.Block, error) {
	c.mu.Lock()
	blk, exists := c.keyByLocal[local]
	c.mu.Unlock()

	if exists {
		return blk, nil
	}

	return c.db.KeyBlockAtLocalHeight(local)
}

// PosBlockAtLocalHeight returns the POS block at the specified local height.
func (c *Cache) PosBlockAtLocalHeight(local uint64) (*database.Block, error) {
	c.mu.Lock()
	blk, exists := c.posByLocal[local]
	c.mu.Unlock()

	if exists {
		return blk, nil
	}

	return c.db.PosBlockAtLocalHeight(local)
}

// Txs returns the payload of the block with the specified id.
func (c *Cache) Txs(id int64) ([]database.BlockTx, error) {
	c.mu.Lock()
	txs, exists := c.txs[id]
	c.mu.Unlock()

	if exists {
		return txs, nil
	}

	blk, err := c.db.BlockByID(id)
	if err != nil {
		return nil, err
	}

	return blk.Txs, nil
}

// =============================================================================

func (c *Cache) put(b *database.Block) {
	c.byID[b.ID()] = b
	c.byHeight[b.Height] = b
	c.txs[b.ID()] = b.Txs

	switch b.IsKey() {
	case true:
		c.keyByLocal[b.LocalHeight] = b
	default:
		c.posByLocal[b.LocalHeight] = b
	}
}

func (c *Cache) remove(b *database.Block) {
	delete(c.byID, b.ID())
	delete(c.txs, b.ID())

	if cur, exists := c.byHeight[b.Height]; exists && cur.ID() == b.ID() {
		delete(c.byHeight, b.Height)
	}

	byLocal := c.posByLocal
	if b.IsKey() {
		byLocal = c.keyByLocal
	}

	if cur, exists := byLocal[b.LocalHeight]; exists && cur.ID() == b.ID() {
		delete(byLocal, b.LocalHeight)
	}
}

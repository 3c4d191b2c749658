// Package database handles the block entity and the lower level support for
// maintaining the canonical chain in a transactional key/value store.
package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	lru "github.com/hashicorp/golang-lru"
)

// Txn represents a read/write transaction against a storage engine. Get
// returns ErrNotFound when the key does not exist.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error

	// Iterate walks the keys sharing the prefix in key order, or reverse
	// key order, starting at seek when provided. Returning false from fn
	// stops the walk.
	Iterate(prefix []byte, seek []byte, reverse bool, fn func(key []byte, value []byte) (bool, error)) error
}

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain. Update
// commits when fn returns nil and rolls back otherwise.
type Storage interface {
	Update(fn func(txn Txn) error) error
	View(fn func(txn Txn) error) error
	Close() error
}

// =============================================================================

// Key layout of the store.
var (
	prefixBlock  = []byte("blk:")
	prefixHeight = []byte("hgt:")
	prefixKey    = []byte("key:")
	prefixPos    = []byte("pos:")
	prefixTime   = []byte("tsx:")
	keyTip       = []byte("meta:tip")
)

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func join(parts ...[]byte) []byte {
	var key []byte
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func blockKey(id int64) []byte {
	return join(prefixBlock, be64(uint64(id)))
}

func heightKey(height uint64) []byte {
	return join(prefixHeight, be64(height))
}

func localKey(key bool, local uint64) []byte {
	if key {
		return join(prefixKey, be64(local))
	}
	return join(prefixPos, be64(local))
}

// timeKey orders blocks by timestamp. Timestamps are never negative so the
// unsigned big endian form sorts correctly.
func timeKey(ts int64, id int64) []byte {
	return join(prefixTime, be64(uint64(ts)), be64(uint64(id)))
}

func idValue(id int64) []byte {
	return be64(uint64(id))
}

func toID(value []byte) (int64, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("invalid id value length %d", len(value))
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// =============================================================================

// Database manages the canonical chain held by a storage engine. Decoded
// blocks are kept in a read cache keyed by id. The cache is only filled by
// reads that did not overlap a write, so readers running outside any chain
// lock can't put back a copy a write replaced.
type Database struct {
	storage Storage
	blocks  *lru.Cache

	mu      sync.Mutex
	epoch   uint64
	writers int
}

// New constructs a database over the storage engine with a read cache of
// the specified number of blocks.
func New(storage Storage, cacheSize int) (*Database, error) {
	blocks, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}

	db := Database{
		storage: storage,
		blocks:  blocks,
	}

	return &db, nil
}

// Update runs fn inside a write transaction. The Txn variants of the write
// operations must run inside a transaction opened here.
func (db *Database) Update(fn func(txn Txn) error) error {
	db.mu.Lock()
	db.writers++
	db.epoch++
	db.mu.Unlock()

	defer func() {
		db.mu.Lock()
		db.writers--
		db.epoch++
		db.mu.Unlock()
	}()

	return db.storage.Update(fn)
}

// viewTxn marks a read transaction with the write epoch it started in.
type viewTxn struct {
	Txn
	epoch uint64
}

func (db *Database) view(fn func(txn Txn) error) error {
	db.mu.Lock()
	epoch := db.epoch
	db.mu.Unlock()

	return db.storage.View(func(t Txn) error {
		return fn(viewTxn{Txn: t, epoch: epoch})
	})
}

// cacheBlock stores a decoded block when it was read by a view that no
// write overlapped.
func (db *Database) cacheBlock(txn Txn, id int64, blk *Block) {
	vt, ok := txn.(viewTxn)
	if !ok {
		return
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.writers == 0 && db.epoch == vt.epoch {
		db.blocks.Add(id, blk)
	}
}

func (db *Database) uncacheBlock(id int64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.blocks.Remove(id)
}

// Close closes the storage engine.
func (db *Database) Close() error {
	db.blocks.Purge()
	return db.storage.Close()
}

// =============================================================================

// SaveBlock writes a new tip. The block is stored as provisional and the
// predecessor's forward link is pointed at it. A block without a
// predecessor is stored as final.
func (db *Database) SaveBlock(b *Block) error {
	return db.Update(func(txn Txn) error {
		return db.SaveBlockTxn(txn, b)
	})
}

// SaveBlockTxn is SaveBlock inside a transaction opened by Update.
func (db *Database) SaveBlockTxn(txn Txn, b *Block) error {
	if !b.Finalized() {
		return errors.New("save: block is not finalized")
	}

	if b.Height > 0 {
		var provisional int64
		b.NextBlockID = &provisional

		pred, err := db.blockTxn(txn, b.PreviousBlockID)
		if err != nil {
			return fmt.Errorf("save: predecessor %s: %w", signature.StringID(b.PreviousBlockID), err)
		}

		next := b.ID()
		pred.NextBlockID = &next
		if err := db.putBlock(txn, pred); err != nil {
			return err
		}
	}

	if err := db.putBlock(txn, b); err != nil {
		return err
	}

	id := idValue(b.ID())

	if err := txn.Set(heightKey(b.Height), id); err != nil {
		return err
	}

	if err := txn.Set(localKey(b.IsKey(), b.LocalHeight), id); err != nil {
		return err
	}

	if err := txn.Set(timeKey(b.Timestamp, b.ID()), id); err != nil {
		return err
	}

	return txn.Set(keyTip, id)
}

// DeleteBlocksFrom truncates the chain inside its own transaction. See
// DeleteBlocksFromTxn.
func (db *Database) DeleteBlocksFrom(id int64) (*Block, error) {
	var tip *Block

	err := db.Update(func(txn Txn) error {
		var err error
		tip, err = db.DeleteBlocksFromTxn(txn, id)
		return err
	})

	if err != nil {
		return nil, err
	}

	return tip, nil
}

// DeleteBlocksFromTxn removes the block with the specified id and every
// block with a timestamp at or after it, together with their payloads.
// The new tip's forward link is marked final and the new tip is returned.
// It assumes a transaction opened by Update.
func (db *Database) DeleteBlocksFromTxn(txn Txn, id int64) (*Block, error) {
	from, err := db.blockTxn(txn, id)
	if err != nil {
		return nil, fmt.Errorf("truncate: %w", err)
	}

	if from.Height == 0 {
		return nil, errors.New("truncate: genesis can't be deleted")
	}

	var ids []int64
	f := func(key []byte, value []byte) (bool, error) {
		bid, err := toID(value)
		if err != nil {
			return false, err
		}
		ids = append(ids, bid)
		return true, nil
	}

	if err := txn.Iterate(prefixTime, timeKey(from.Timestamp, 0), false, f); err != nil {
		return nil, fmt.Errorf("truncate: scan: %w", err)
	}

	for _, bid := range ids {
		blk, err := db.blockTxn(txn, bid)
		if err != nil {
			return nil, fmt.Errorf("truncate: %w", err)
		}

		keys := [][]byte{
			blockKey(bid),
			heightKey(blk.Height),
			localKey(blk.IsKey(), blk.LocalHeight),
			timeKey(blk.Timestamp, bid),
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return nil, fmt.Errorf("truncate: delete: %w", err)
			}
		}

		db.uncacheBlock(bid)
	}

	// Re-derive the tip from what is left and mark it final.
	tip, err := db.lastByPrefix(txn, prefixHeight)
	if err != nil {
		return nil, fmt.Errorf("truncate: new tip: %w", err)
	}

	tip.NextBlockID = nil
	if err := db.putBlock(txn, tip); err != nil {
		return nil, err
	}

	if err := txn.Set(keyTip, idValue(tip.ID())); err != nil {
		return nil, err
	}

	return tip, nil
}

// DeleteAll removes every block from the store.
func (db *Database) DeleteAll() error {
	defer func() {
		db.mu.Lock()
		db.blocks.Purge()
		db.mu.Unlock()
	}()

	return db.Update(func(txn Txn) error {
		for _, prefix := range [][]byte{prefixBlock, prefixHeight, prefixKey, prefixPos, prefixTime} {
			var keys [][]byte
			f := func(key []byte, value []byte) (bool, error) {
				keys = append(keys, key)
				return true, nil
			}

			if err := txn.Iterate(prefix, nil, false, f); err != nil {
				return err
			}

			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}

		err := txn.Delete(keyTip)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

// =============================================================================

// BlockByID returns the block with the specified id.
func (db *Database) BlockByID(id int64) (*Block, error) {
	if v, exists := db.blocks.Get(id); exists {
		return v.(*Block).Clone(), nil
	}

	var blk *Block
	err := db.view(func(txn Txn) error {
		var err error
		blk, err = db.blockTxn(txn, id)
		return err
	})

	if err != nil {
		return nil, err
	}

	return blk, nil
}

// HasBlock reports if the block is part of the stored chain.
func (db *Database) HasBlock(id int64) (bool, error) {
	_, err := db.BlockByID(id)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}

	return false, err
}

// BlockAtHeight returns the block at the specified height.
func (db *Database) BlockAtHeight(height uint64) (*Block, error) {
	return db.blockByIndex(heightKey(height))
}

// KeyBlockAtLocalHeight returns the key block at the specified local height.
func (db *Database) KeyBlockAtLocalHeight(local uint64) (*Block, error) {
	return db.blockByIndex(localKey(true, local))
}

// PosBlockAtLocalHeight returns the POS block at the specified local height.
func (db *Database) PosBlockAtLocalHeight(local uint64) (*Block, error) {
	return db.blockByIndex(localKey(false, local))
}

// LastBlock returns the tip of the chain.
func (db *Database) LastBlock() (*Block, error) {
	return db.blockByIndex(keyTip)
}

// LastKeyBlock returns the latest key block. ErrNotFound is returned when no
// key block has been stored yet.
func (db *Database) LastKeyBlock() (*Block, error) {
	return db.lastBy(prefixKey)
}

// LastPosBlock returns the latest POS block.
func (db *Database) LastPosBlock() (*Block, error) {
	return db.lastBy(prefixPos)
}

// BlocksAfter returns up to limit blocks above the specified height in
// height order.
func (db *Database) BlocksAfter(height uint64, limit int) ([]*Block, error) {
	return db.walk(prefixHeight, heightKey(height+1), limit)
}

// PosBlocksFrom returns the POS blocks starting at the specified local
// height in order.
func (db *Database) PosBlocksFrom(local uint64) ([]*Block, error) {
	return db.walk(prefixPos, localKey(false, local), 0)
}

// GeneratorActivity counts the POS blocks each generator produced from the
// specified local height onward.
func (db *Database) GeneratorActivity(fromLocal uint64) (map[int64]int, error) {
	blocks, err := db.PosBlocksFrom(fromLocal)
	if err != nil {
		return nil, err
	}

	activity := make(map[int64]int)
	for _, blk := range blocks {
		if blk.Height == 0 {
			continue
		}
		activity[blk.GeneratorID()]++
	}

	return activity, nil
}

// =============================================================================

func (db *Database) blockByIndex(index []byte) (*Block, error) {
	var blk *Block

	err := db.view(func(txn Txn) error {
		value, err := txn.Get(index)
		if err != nil {
			return err
		}

		id, err := toID(value)
		if err != nil {
			return err
		}

		blk, err = db.blockTxn(txn, id)
		return err
	})

	if err != nil {
		return nil, err
	}

	return blk, nil
}

func (db *Database) lastBy(prefix []byte) (*Block, error) {
	var blk *Block

	err := db.view(func(txn Txn) error {
		var err error
		blk, err = db.lastByPrefix(txn, prefix)
		return err
	})

	if err != nil {
		return nil, err
	}

	return blk, nil
}

func (db *Database) lastByPrefix(txn Txn, prefix []byte) (*Block, error) {
	var id int64
	found := false

	f := func(key []byte, value []byte) (bool, error) {
		var err error
		id, err = toID(value)
		found = true
		return false, err
	}

	if err := txn.Iterate(prefix, nil, true, f); err != nil {
		return nil, err
	}

	if !found {
		return nil, ErrNotFound
	}

	return db.blockTxn(txn, id)
}

func (db *Database) walk(prefix []byte, seek []byte, limit int) ([]*Block, error) {
	var blocks []*Block

	err := db.view(func(txn Txn) error {
		f := func(key []byte, value []byte) (bool, error) {
			id, err := toID(value)
			if err != nil {
				return false, err
			}

			blk, err := db.blockTxn(txn, id)
			if err != nil {
				return false, err
			}

			blocks = append(blocks, blk)
			return limit <= 0 || len(blocks) < limit, nil
		}

		return txn.Iterate(prefix, seek, false, f)
	})

	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// blockTxn reads a block inside a transaction, going through the read cache.
func (db *Database) blockTxn(txn Txn, id int64) (*Block, error) {
	if v, exists := db.blocks.Get(id); exists {
		return v.(*Block).Clone(), nil
	}

	value, err := txn.Get(blockKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("block %s: %w", signature.StringID(id), ErrNotFound)
		}
		return nil, err
	}

	var bd BlockData
	if err := json.Unmarshal(value, &bd); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", signature.StringID(id), err)
	}

	blk, err := ToBlock(bd)
	if err != nil {
		return nil, err
	}

	db.cacheBlock(txn, id, blk)

	return blk.Clone(), nil
}

// putBlock writes the block and drops any stale cached copy.
func (db *Database) putBlock(txn Txn, b *Block) error {
	data, err := json.Marshal(NewBlockData(b))
	if err != nil {
		return err
	}

	db.uncacheBlock(b.ID())

	return txn.Set(blockKey(b.ID()), data)
}

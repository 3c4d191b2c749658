// Package badger implements the block store on top of the badger key/value
// database.
package badger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Badger represents the storage engine that keeps the chain in a badger
// database. This implements the database.Storage interface.
type Badger struct {
	db *badger.DB
}

// New opens the badger database at the specified path. An empty path opens
// an in-memory database.
func New(path string, log *zap.SugaredLogger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	opts.Logger = nil
	if log != nil {
		opts.Logger = logger{log: log.With("component", "badger")}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger[%s]: %w", path, err)
	}

	return &Badger{db: db}, nil
}

// Close releases the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Update runs fn inside a read/write transaction. The transaction commits
// when fn returns nil and is discarded otherwise.
func (b *Badger) Update(fn func(txn database.Txn) error) error {
	return b.db.Update(func(t *badger.Txn) error {
		return fn(&txn{t: t})
	})
}

// View runs fn inside a read only transaction.
func (b *Badger) View(fn func(txn database.Txn) error) error {
	return b.db.View(func(t *badger.Txn) error {
		return fn(&txn{t: t})
	})
}

// =============================================================================

// txn adapts a badger transaction to the database.Txn interface.
type txn struct {
	t *badger.Txn
}

// Get returns a copy of the value for the key.
func (tx *txn) Get(key []byte) ([]byte, error) {
	item, err := tx.t.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	return item.ValueCopy(nil)
}

// Set writes the value for the key.
func (tx *txn) Set(key []byte, value []byte) error {
	return tx.t.Set(key, value)
}

// Delete removes the key.
func (tx *txn) Delete(key []byte) error {
	return tx.t.Delete(key)
}

// Iterate walks the keys with the prefix. Badger allows a single iterator
// per read/write transaction so fn must not start another walk.
func (tx *txn) Iterate(prefix []byte, seek []byte, reverse bool, fn func(key []byte, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse

	it := tx.t.NewIterator(opts)
	defer it.Close()

	start := seek
	if start == nil {
		start = prefix
		if reverse {
			start = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 32)...)
		}
	}

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		more, err := fn(item.KeyCopy(nil), value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	return nil
}

// =============================================================================

// logger adapts the zap logger to the badger.Logger interface.
type logger struct {
	log *zap.SugaredLogger
}

func (l logger) Errorf(format string, args ...any) {
	l.log.Errorf(format, args...)
}

func (l logger) Warningf(format string, args ...any) {
	l.log.Warnf(format, args...)
}

func (l logger) Infof(format string, args ...any) {
	l.log.Infof(format, args...)
}

func (l logger) Debugf(format string, args ...any) {
	l.log.Debugf(format, args...)
}

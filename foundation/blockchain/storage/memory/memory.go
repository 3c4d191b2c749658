// Package memory implements the ability to read and write blocks to memory
// using a map. It's used by tests and nodes that don't keep the chain.
package memory

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// Memory represents the storage engine for keeping the chain in memory. This
// implements the database.Storage interface. Writers are serialized and
// readers never observe an uncommitted update.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Update runs fn against a transaction whose writes are applied only when
// fn returns nil.
func (m *Memory) Update(fn func(txn database.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := txn{base: m.data, writes: make(map[string][]byte), writable: true}
	if err := fn(&tx); err != nil {
		return err
	}

	for k, v := range tx.writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}

	return nil
}

// View runs fn against a read only transaction.
func (m *Memory) View(fn func(txn database.Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx := txn{base: m.data}
	return fn(&tx)
}

// =============================================================================

// txn keeps the pending writes over the committed data. A nil value in
// writes marks a delete.
type txn struct {
	base     map[string][]byte
	writes   map[string][]byte
	writable bool
}

func (tx *txn) Get(key []byte) ([]byte, error) {
	k := string(key)

	if v, exists := tx.writes[k]; exists {
		if v == nil {
			return nil, database.ErrNotFound
		}
		return bytes.Clone(v), nil
	}

	v, exists := tx.base[k]
	if !exists {
		return nil, database.ErrNotFound
	}

	return bytes.Clone(v), nil
}

func (tx *txn) Set(key []byte, value []byte) error {
	if !tx.writable {
		return errors.New("read only transaction")
	}

	tx.writes[string(key)] = append([]byte{}, value...)
	return nil
}

func (tx *txn) Delete(key []byte) error {
	if !tx.writable {
		return errors.New("read only transaction")
	}

	tx.writes[string(key)] = nil
	return nil
}

func (tx *txn) Iterate(prefix []byte, seek []byte, reverse bool, fn func(key []byte, value []byte) (bool, error)) error {
	p := string(prefix)

	keys := make(map[string]struct{})
	for k := range tx.base {
		if strings.HasPrefix(k, p) {
			keys[k] = struct{}{}
		}
	}
	for k, v := range tx.writes {
		switch {
		case !strings.HasPrefix(k, p):
		case v == nil:
			delete(keys, k)
		default:
			keys[k] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		switch {
		case seek == nil:
		case !reverse && k < string(seek):
			continue
		case reverse && k > string(seek):
			continue
		}
		sorted = append(sorted, k)
	}

	sort.Strings(sorted)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	}

	for _, k := range sorted {
		v, err := tx.Get([]byte(k))
		if err != nil {
			return err
		}

		more, err := fn([]byte(k), v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	return nil
}

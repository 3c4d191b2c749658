package badger_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/storage/badger"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *badger.Badger {
	t.Helper()

	store, err := badger.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestGetSetDelete(t *testing.T) {
	store := newStore(t)

	err := store.Update(func(txn database.Txn) error {
		return txn.Set([]byte("blk:1"), []byte("one"))
	})
	require.NoError(t, err)

	err = store.View(func(txn database.Txn) error {
		v, err := txn.Get([]byte("blk:1"))
		require.NoError(t, err)
		require.Equal(t, []byte("one"), v)

		_, err = txn.Get([]byte("blk:2"))
		require.ErrorIs(t, err, database.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(txn database.Txn) error {
		return txn.Delete([]byte("blk:1"))
	})
	require.NoError(t, err)

	err = store.View(func(txn database.Txn) error {
		_, err := txn.Get([]byte("blk:1"))
		return err
	})
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestUpdateRollsBack(t *testing.T) {
	store := newStore(t)
	boom := errors.New("boom")

	err := store.Update(func(txn database.Txn) error {
		require.NoError(t, txn.Set([]byte("k"), []byte("v")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(func(txn database.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestIterate(t *testing.T) {
	store := newStore(t)

	err := store.Update(func(txn database.Txn) error {
		for _, k := range []string{"a:1", "a:2", "a:3", "b:1"} {
			if err := txn.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	collect := func(seek []byte, reverse bool, limit int) []string {
		var keys []string
		err := store.View(func(txn database.Txn) error {
			return txn.Iterate([]byte("a:"), seek, reverse, func(key []byte, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return limit == 0 || len(keys) < limit, nil
			})
		})
		require.NoError(t, err)
		return keys
	}

	require.Equal(t, []string{"a:1", "a:2", "a:3"}, collect(nil, false, 0))
	require.Equal(t, []string{"a:3", "a:2", "a:1"}, collect(nil, true, 0))
	require.Equal(t, []string{"a:2", "a:3"}, collect([]byte("a:2"), false, 0))
	require.Equal(t, []string{"a:3"}, collect(nil, true, 1))
}

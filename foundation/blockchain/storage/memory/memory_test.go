package memory_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestUpdateIsolation(t *testing.T) {
	store := memory.New()
	boom := errors.New("boom")

	err := store.Update(func(txn database.Txn) error {
		require.NoError(t, txn.Set([]byte("a:1"), []byte("one")))

		v, err := txn.Get([]byte("a:1"))
		require.NoError(t, err)
		require.Equal(t, []byte("one"), v)

		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(func(txn database.Txn) error {
		_, err := txn.Get([]byte("a:1"))
		return err
	})
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestReadOnlyView(t *testing.T) {
	store := memory.New()

	err := store.View(func(txn database.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	require.Error(t, err)
}

func TestIteratePendingWrites(t *testing.T) {
	store := memory.New()

	err := store.Update(func(txn database.Txn) error {
		for _, k := range []string{"a:1", "a:2", "a:3", "b:1"} {
			if err := txn.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(txn database.Txn) error {
		require.NoError(t, txn.Delete([]byte("a:2")))
		require.NoError(t, txn.Set([]byte("a:4"), []byte("a:4")))

		var keys []string
		err := txn.Iterate([]byte("a:"), nil, true, func(key []byte, value []byte) (bool, error) {
			keys = append(keys, string(key))
			return true, nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"a:4", "a:3", "a:1"}, keys)

		keys = nil
		err = txn.Iterate([]byte("a:"), []byte("a:3"), false, func(key []byte, value []byte) (bool, error) {
			keys = append(keys, string(key))
			return true, nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"a:3", "a:4"}, keys)

		return nil
	})
	require.NoError(t, err)
}

package cache_test

import (
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/cache"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) (*database.Database, []*database.Block) {
	t.Helper()

	p := consensus.TestParams()

	pk, err := crypto.GenerateKey()
	require.NoError(t, err)

	db, err := database.New(memory.New(), 16)
	require.NoError(t, err)

	genesis := database.NewGenesisBlock(p)
	require.NoError(t, db.SaveBlock(genesis))

	chain := []*database.Block{genesis}
	for i := 1; i <= n; i++ {
		prev := chain[len(chain)-1]

		blk, err := database.NewPosBlock(prev, int64(i)*60_000, signature.PublicKey(pk), nil)
		require.NoError(t, err)
		require.NoError(t, blk.Sign(pk))
		require.NoError(t, blk.SetPrevious(p, prev, nil, db))
		require.NoError(t, db.SaveBlock(blk))

		chain = append(chain, blk)
	}

	return db, chain
}

func TestWindowEviction(t *testing.T) {
	db, chain := buildChain(t, 8)

	var events []string
	c := cache.New(cache.Config{
		DB:        db,
		KeyWindow: 2,
		PosWindow: 3,
		EvHandler: func(v string, args ...any) { events = append(events, v) },
	})

	for _, blk := range chain {
		c.Add(blk)
	}

	keys, pos := c.Size()
	require.Equal(t, 0, keys)
	require.Equal(t, 3, pos)
	require.Empty(t, events)

	// Inside the window the cached copy is returned.
	blk, err := c.PosBlockAtLocalHeight(8)
	require.NoError(t, err)
	require.Equal(t, chain[8].ID(), blk.ID())

	// Outside the window the lookup falls through to the store.
	blk, err = c.PosBlockAtLocalHeight(1)
	require.NoError(t, err)
	require.Equal(t, chain[1].ID(), blk.ID())

	blk, err = c.BlockAtHeight(0)
	require.NoError(t, err)
	require.Equal(t, chain[0].ID(), blk.ID())

	// The cached predecessor is linked to its successor.
	blk, err = c.BlockByID(chain[7].ID())
	require.NoError(t, err)
	require.NotNil(t, blk.NextBlockID)
	require.Equal(t, chain[8].ID(), *blk.NextBlockID)
}

func TestRemove(t *testing.T) {
	db, chain := buildChain(t, 4)

	c := cache.New(cache.Config{DB: db, KeyWindow: 2, PosWindow: 10})
	for _, blk := range chain {
		c.Add(blk)
	}

	c.Remove(chain[4])

	_, pos := c.Size()
	require.Equal(t, 4, pos)

	blk, err := c.BlockByID(chain[3].ID())
	require.NoError(t, err)
	require.Nil(t, blk.NextBlockID)
}

func TestLoad(t *testing.T) {
	db, chain := buildChain(t, 6)

	c := cache.New(cache.Config{DB: db, KeyWindow: 1, PosWindow: 4})
	require.NoError(t, c.Load(chain[6]))

	_, pos := c.Size()
	require.Equal(t, 4, pos)

	txs, err := c.Txs(chain[6].ID())
	require.NoError(t, err)
	require.Empty(t, txs)
}

package database_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

// =============================================================================

func Test_Encoding(t *testing.T) {
	p := consensus.TestParams()
	pk := privateKey(t)
	genesis := database.NewGenesisBlock(p)

	t.Log("Given the need to encode blocks and derive their identity.")
	{
		t.Logf("\tTest 0:\tWhen handling a POS block.")
		{
			txs := []database.BlockTx{database.NewPaymentTx(500, 1, 2, 10, 1)}

			blk, err := database.NewPosBlock(genesis, 1000, signature.PublicKey(pk), txs)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to construct the block: %s", failed, err)
			}

			if blk.Finalized() || blk.ID() != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould not have an identity before signing.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not have an identity before signing.", success)

			if err := blk.Sign(pk); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign the block: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to sign the block.", success)

			data := blk.Bytes()
			if len(data) != database.PosBlockSize {
				t.Fatalf("\t%s\tTest 0:\tShould encode to %d bytes, got %d.", failed, database.PosBlockSize, len(data))
			}
			t.Logf("\t%s\tTest 0:\tShould encode to a fixed size.", success)

			parsed, err := database.Parse(data, txs)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to parse the block: %s", failed, err)
			}

			if parsed.ID() != blk.ID() || parsed.StringID() != blk.StringID() {
				t.Fatalf("\t%s\tTest 0:\tShould derive the same id after parsing: %s %s", failed, parsed.StringID(), blk.StringID())
			}
			t.Logf("\t%s\tTest 0:\tShould derive the same id after parsing.", success)

			if parsed.GeneratorID() != signature.AccountID(signature.PublicKey(pk)) {
				t.Fatalf("\t%s\tTest 0:\tShould derive the generator from the public key.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould derive the generator from the public key.", success)

			if err := parsed.VerifySignature(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould verify the signature: %s", failed, err)
			}
			if err := parsed.VerifyPayload(p); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould verify the payload: %s", failed, err)
			}
			if err := parsed.VerifyPredecessor(genesis); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould verify the predecessor: %s", failed, err)
			}
			if err := parsed.VerifyGenerationSequence(genesis, genesis); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould verify the generation sequence: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould pass every context free check.", success)

			data[10] ^= 0xff
			tampered, err := database.Parse(data, txs)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to parse the tampered block: %s", failed, err)
			}

			if err := tampered.VerifySignature(); !errors.Is(err, database.ErrBlockNotValid) {
				t.Fatalf("\t%s\tTest 0:\tShould reject a tampered block as not valid: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a tampered block as not valid.", success)
		}

		t.Logf("\tTest 1:\tWhen handling a key block.")
		{
			blk := mine(t, p, genesis, genesis, nil, 2000)

			data := blk.Bytes()
			if len(data) != database.KeyBlockSize {
				t.Fatalf("\t%s\tTest 1:\tShould encode to %d bytes, got %d.", failed, database.KeyBlockSize, len(data))
			}
			t.Logf("\t%s\tTest 1:\tShould encode to a fixed size.", success)

			parsed, err := database.Parse(data, blk.Txs)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to parse the block: %s", failed, err)
			}

			if parsed.ID() != blk.ID() {
				t.Fatalf("\t%s\tTest 1:\tShould derive the same id after parsing.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould derive the same id after parsing.", success)

			if err := parsed.VerifyWork(p, p.PowLimitBits); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould verify the proof of work: %s", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould verify the proof of work.", success)

			if parsed.GeneratorID() != 7 || parsed.Rewards()[7] != p.KeyBlockReward {
				t.Fatalf("\t%s\tTest 1:\tShould derive the generator from the coinbase.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould derive the generator from the coinbase.", success)

			if _, err := database.Parse(data, nil); !errors.Is(err, database.ErrBlockNotValid) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a key block without a coinbase: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a key block without a coinbase.", success)
		}
	}
}

func Test_CumulativeDifficulty(t *testing.T) {
	p := consensus.TestParams()
	pk := privateKey(t)

	t.Log("Given the need to score a chain of key and POS blocks.")
	{
		t.Logf("\tTest 0:\tWhen attaching a key block and a POS block to genesis.")
		{
			db, genesis := newDatabase(t, p)

			key := mine(t, p, genesis, genesis, nil, 1000)
			attach(t, p, db, key, genesis, nil)

			pos := forge(t, pk, key, 61_000)
			attach(t, p, db, pos, genesis, key)

			w := consensus.Work(key.Bits)
			s := consensus.NormalizedStakeTarget(p.InitialBaseTarget)
			exp := new(big.Int).Sqrt(new(big.Int).Mul(w, s))

			if pos.CumulativeDifficulty.Cmp(exp) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould score the POS block as sqrt(W*S): got %s, exp %s", failed, pos.CumulativeDifficulty, exp)
			}
			t.Logf("\t%s\tTest 0:\tShould score the POS block as sqrt(W*S).", success)

			if key.Height != 1 || key.LocalHeight != 0 || pos.Height != 2 || pos.LocalHeight != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould set heights: key %d/%d pos %d/%d", failed, key.Height, key.LocalHeight, pos.Height, pos.LocalHeight)
			}
			t.Logf("\t%s\tTest 0:\tShould set heights and local heights.", success)
		}

		t.Logf("\tTest 1:\tWhen building a longer mixed chain.")
		{
			db, genesis := newDatabase(t, p)

			posPrev, keyPrev := genesis, (*database.Block)(nil)
			prevCum := genesis.CumulativeDifficulty
			ts := int64(0)
			var keyLocal, posLocal []uint64

			for i := range 12 {
				ts += 60_000
				tip := posPrev
				if keyPrev != nil && keyPrev.Height > tip.Height {
					tip = keyPrev
				}

				var blk *database.Block
				switch i%4 == 1 {
				case true:
					blk = mine(t, p, tip, posPrev, keyPrev, ts)
					attach(t, p, db, blk, posPrev, keyPrev)
					if blk.CumulativeDifficulty.Cmp(prevCum) <= 0 {
						t.Fatalf("\t%s\tTest 1:\tShould strictly increase at key block %d.", failed, i)
					}
					keyPrev = blk
					keyLocal = append(keyLocal, blk.LocalHeight)

				default:
					blk = forge(t, pk, tip, ts)
					attach(t, p, db, blk, posPrev, keyPrev)
					if blk.CumulativeDifficulty.Cmp(prevCum) < 0 {
						t.Fatalf("\t%s\tTest 1:\tShould not decrease at POS block %d.", failed, i)
					}
					posPrev = blk
					posLocal = append(posLocal, blk.LocalHeight)
				}

				if blk.Height != uint64(i+1) {
					t.Fatalf("\t%s\tTest 1:\tShould advance the height by one, got %d.", failed, blk.Height)
				}
				prevCum = blk.CumulativeDifficulty
			}
			t.Logf("\t%s\tTest 1:\tShould keep the cumulative difficulty monotone.", success)

			for i := range keyLocal {
				if keyLocal[i] != uint64(i) {
					t.Fatalf("\t%s\tTest 1:\tShould number key blocks 0,1,2..: %v", failed, keyLocal)
				}
			}
			for i := range posLocal {
				if posLocal[i] != uint64(i+1) {
					t.Fatalf("\t%s\tTest 1:\tShould number POS blocks after genesis 1,2,3..: %v", failed, posLocal)
				}
			}
			t.Logf("\t%s\tTest 1:\tShould number each block type independently.", success)
		}
	}
}

func Test_BaseTargetRetarget(t *testing.T) {
	p := consensus.TestParams()
	pk := privateKey(t)

	t.Log("Given the need to adjust the POS base target.")
	{
		t.Logf("\tTest 0:\tWhen blocks arrive exactly on the target block time.")
		{
			db, genesis := newDatabase(t, p)
			spacing := p.TargetBlockTime * 1000

			p1 := forge(t, pk, genesis, spacing)
			attach(t, p, db, p1, genesis, nil)

			p2 := forge(t, pk, p1, 2*spacing)
			attach(t, p, db, p2, p1, nil)

			if p1.BaseTarget != p.InitialBaseTarget || p2.BaseTarget != p.InitialBaseTarget {
				t.Fatalf("\t%s\tTest 0:\tShould leave the base target unchanged: %d %d", failed, p1.BaseTarget, p2.BaseTarget)
			}
			t.Logf("\t%s\tTest 0:\tShould leave the base target unchanged.", success)
		}

		t.Logf("\tTest 1:\tWhen blocks arrive faster than the target block time.")
		{
			db, genesis := newDatabase(t, p)

			p1 := forge(t, pk, genesis, 1_000)
			attach(t, p, db, p1, genesis, nil)

			p2 := forge(t, pk, p1, 2_000)
			attach(t, p, db, p2, p1, nil)

			if p2.BaseTarget >= p.InitialBaseTarget || p2.BaseTarget < p.MinBaseTarget {
				t.Fatalf("\t%s\tTest 1:\tShould lower the base target within bounds: %d", failed, p2.BaseTarget)
			}
			t.Logf("\t%s\tTest 1:\tShould lower the base target within bounds.", success)
		}

		t.Logf("\tTest 2:\tWhen blocks arrive slower than the target block time.")
		{
			db, genesis := newDatabase(t, p)

			p1 := forge(t, pk, genesis, 300_000)
			attach(t, p, db, p1, genesis, nil)

			p2 := forge(t, pk, p1, 600_000)
			attach(t, p, db, p2, p1, nil)

			exp := p.InitialBaseTarget * uint64(p.MaxBlocktimeLimit) / uint64(p.TargetBlockTime)
			if p2.BaseTarget != exp {
				t.Fatalf("\t%s\tTest 2:\tShould raise the base target by the capped ratio: got %d, exp %d", failed, p2.BaseTarget, exp)
			}
			t.Logf("\t%s\tTest 2:\tShould raise the base target by the capped ratio.", success)
		}
	}
}

func Test_Truncate(t *testing.T) {
	p := consensus.TestParams()
	pk := privateKey(t)

	t.Log("Given the need to truncate the chain for a reorganization.")
	{
		db, genesis := newDatabase(t, p)

		var chain []*database.Block
		posPrev, keyPrev := genesis, (*database.Block)(nil)
		for i := range 6 {
			tip := posPrev
			if keyPrev != nil && keyPrev.Height > tip.Height {
				tip = keyPrev
			}

			ts := int64(i+1) * 60_000
			if i == 2 {
				blk := mine(t, p, tip, posPrev, keyPrev, ts)
				attach(t, p, db, blk, posPrev, keyPrev)
				keyPrev = blk
				chain = append(chain, blk)
				continue
			}

			blk := forge(t, pk, tip, ts)
			attach(t, p, db, blk, posPrev, keyPrev)
			posPrev = blk
			chain = append(chain, blk)
		}

		last, err := db.LastBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the tip: %s", failed, err)
		}
		if last.ID() != chain[5].ID() || last.NextBlockID == nil || *last.NextBlockID != 0 {
			t.Fatalf("\t%s\tShould store the tip as provisional.", failed)
		}
		t.Logf("\t%s\tShould store the tip as provisional.", success)

		prev, err := db.BlockByID(chain[4].ID())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the predecessor: %s", failed, err)
		}
		if prev.NextBlockID == nil || *prev.NextBlockID != chain[5].ID() {
			t.Fatalf("\t%s\tShould link the predecessor to its successor.", failed)
		}
		t.Logf("\t%s\tShould link the predecessor to its successor.", success)

		tip, err := db.DeleteBlocksFrom(chain[5].ID())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to pop the tip: %s", failed, err)
		}
		if tip.ID() != chain[4].ID() || tip.NextBlockID != nil {
			t.Fatalf("\t%s\tShould return the predecessor marked final.", failed)
		}
		last, err = db.LastBlock()
		if err != nil || last.ID() != chain[4].ID() || last.NextBlockID != nil {
			t.Fatalf("\t%s\tShould read back the predecessor marked final: %v", failed, err)
		}
		t.Logf("\t%s\tShould read back the predecessor marked final.", success)

		tip, err = db.DeleteBlocksFrom(chain[1].ID())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to truncate several blocks: %s", failed, err)
		}
		if tip.ID() != chain[0].ID() {
			t.Fatalf("\t%s\tShould leave the first block as the tip.", failed)
		}
		if _, err := db.LastKeyBlock(); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("\t%s\tShould remove the key block: %v", failed, err)
		}
		if _, err := db.BlockAtHeight(3); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("\t%s\tShould remove the height index: %v", failed, err)
		}
		t.Logf("\t%s\tShould remove every later block and index.", success)

		// Re-push the same blocks and compare the derived values.
		posPrev, keyPrev = chain[0], nil
		for i, orig := range chain[1:5] {
			data := database.NewBlockData(orig)
			blk, err := database.ParseBlockData(data)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to parse block %d: %s", failed, i, err)
			}

			attach(t, p, db, blk, posPrev, keyPrev)
			switch blk.IsKey() {
			case true:
				keyPrev = blk
			default:
				posPrev = blk
			}

			if blk.ID() != orig.ID() || blk.Height != orig.Height || blk.CumulativeDifficulty.Cmp(orig.CumulativeDifficulty) != 0 {
				t.Fatalf("\t%s\tShould reproduce block %d exactly.", failed, i)
			}
		}
		t.Logf("\t%s\tShould reproduce ids, heights and difficulty when re-pushed.", success)

		if _, err := db.DeleteBlocksFrom(genesis.ID()); err == nil {
			t.Fatalf("\t%s\tShould refuse to delete genesis.", failed)
		}
		t.Logf("\t%s\tShould refuse to delete genesis.", success)
	}
}

// =============================================================================

func Test_GenesisChainID(t *testing.T) {
	t.Log("Given the need to keep chains with different ids apart.")
	{
		p := consensus.TestParams()
		zero := database.NewGenesisBlock(p)
		if zero.GenerationSequence != [32]byte{} {
			t.Fatalf("\t%s\tShould keep an empty generation sequence for chain id 0.", failed)
		}
		t.Logf("\t%s\tShould keep an empty generation sequence for chain id 0.", success)

		p.ChainID = 1
		one := database.NewGenesisBlock(p)
		again := database.NewGenesisBlock(p)
		p.ChainID = 2
		two := database.NewGenesisBlock(p)

		if one.ID() != again.ID() || one.GenerationSequence != again.GenerationSequence {
			t.Fatalf("\t%s\tShould derive the same genesis for the same chain id.", failed)
		}
		t.Logf("\t%s\tShould derive the same genesis for the same chain id.", success)

		if one.ID() == two.ID() || one.ID() == zero.ID() || one.GenerationSequence == two.GenerationSequence {
			t.Fatalf("\t%s\tShould derive a different genesis per chain id.", failed)
		}
		t.Logf("\t%s\tShould derive a different genesis per chain id.", success)
	}
}

func Test_ReadCacheOverlappingWrite(t *testing.T) {
	p := consensus.TestParams()
	pk := privateKey(t)

	t.Log("Given the need to keep the read cache coherent with concurrent readers.")
	{
		store := snapshotStorage{
			Memory:  memory.New(),
			reached: make(chan struct{}),
			release: make(chan struct{}),
		}

		db, err := database.New(&store, 64)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %s", failed, err)
		}

		genesis := database.NewGenesisBlock(p)
		if err := db.SaveBlock(genesis); err != nil {
			t.Fatalf("\t%s\tShould be able to save genesis: %s", failed, err)
		}

		store.armed.Store(true)

		done := make(chan error, 1)
		go func() {
			_, err := db.BlockByID(genesis.ID())
			done <- err
		}()

		<-store.reached

		blk := forge(t, pk, genesis, 60_000)
		attach(t, p, db, blk, genesis, nil)

		close(store.release)
		if err := <-done; err != nil {
			t.Fatalf("\t%s\tShould be able to finish the overlapping read: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to read while a block is saved.", success)

		got, err := db.BlockByID(genesis.ID())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read genesis: %s", failed, err)
		}
		if got.NextBlockID == nil || *got.NextBlockID != blk.ID() {
			t.Fatalf("\t%s\tShould not cache the copy read before the save: next %v", failed, got.NextBlockID)
		}
		t.Logf("\t%s\tShould not cache the copy read before the save.", success)
	}
}

// =============================================================================

func privateKey(t *testing.T) *ecdsa.PrivateKey {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}
	return pk
}

func newDatabase(t *testing.T, p consensus.Params) (*database.Database, *database.Block) {
	db, err := database.New(memory.New(), 64)
	if err != nil {
		t.Fatalf("Should be able to open the database: %s", err)
	}

	genesis := database.NewGenesisBlock(p)
	if err := db.SaveBlock(genesis); err != nil {
		t.Fatalf("Should be able to save genesis: %s", err)
	}

	return db, genesis
}

func forge(t *testing.T, pk *ecdsa.PrivateKey, prev *database.Block, ts int64) *database.Block {
	blk, err := database.NewPosBlock(prev, ts, signature.PublicKey(pk), nil)
	if err != nil {
		t.Fatalf("Should be able to construct a POS block: %s", err)
	}

	if err := blk.Sign(pk); err != nil {
		t.Fatalf("Should be able to sign a POS block: %s", err)
	}

	return blk
}

func mine(t *testing.T, p consensus.Params, prev *database.Block, posPrev *database.Block, keyPrev *database.Block, ts int64) *database.Block {
	txs := []database.BlockTx{database.NewCoinbaseTx(ts, 7, p.KeyBlockReward)}

	blk, err := database.NewKeyBlock(prev, posPrev, keyPrev, ts, p.PowLimitBits, [32]byte{}, txs)
	if err != nil {
		t.Fatalf("Should be able to construct a key block: %s", err)
	}

	if err := blk.PerformPOW(context.Background(), func(string, ...any) {}); err != nil {
		t.Fatalf("Should be able to mine a key block: %s", err)
	}

	return blk
}

func attach(t *testing.T, p consensus.Params, db *database.Database, blk *database.Block, posPrev *database.Block, keyPrev *database.Block) {
	if err := blk.SetPrevious(p, posPrev, keyPrev, db); err != nil {
		t.Fatalf("Should be able to attach block: %s", err)
	}

	if err := db.SaveBlock(blk); err != nil {
		t.Fatalf("Should be able to save block: %s", err)
	}
}

// snapshotStorage serves each view from a copy of the committed data taken
// when the view starts. When armed, the first read of a view waits for
// release so a write can commit in between.
type snapshotStorage struct {
	*memory.Memory
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (s *snapshotStorage) View(fn func(txn database.Txn) error) error {
	snap := make(map[string][]byte)

	err := s.Memory.View(func(txn database.Txn) error {
		return txn.Iterate(nil, nil, false, func(key []byte, value []byte) (bool, error) {
			snap[string(key)] = bytes.Clone(value)
			return true, nil
		})
	})
	if err != nil {
		return err
	}

	return fn(&snapshotTxn{store: s, data: snap})
}

type snapshotTxn struct {
	store *snapshotStorage
	data  map[string][]byte
}

func (tx *snapshotTxn) Get(key []byte) ([]byte, error) {
	v, exists := tx.data[string(key)]

	if tx.store.armed.CompareAndSwap(true, false) {
		close(tx.store.reached)
		<-tx.store.release
	}

	if !exists {
		return nil, database.ErrNotFound
	}
	return v, nil
}

func (tx *snapshotTxn) Set(key []byte, value []byte) error {
	return errors.New("read only transaction")
}

func (tx *snapshotTxn) Delete(key []byte) error {
	return errors.New("read only transaction")
}

func (tx *snapshotTxn) Iterate(prefix []byte, seek []byte, reverse bool, fn func(key []byte, value []byte) (bool, error)) error {
	var keys []string
	for k := range tx.data {
		switch {
		case !strings.HasPrefix(k, string(prefix)):
		case seek != nil && !reverse && k < string(seek):
		case seek != nil && reverse && k > string(seek):
		default:
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}

	for _, k := range keys {
		more, err := fn([]byte(k), tx.data[k])
		if err != nil || !more {
			return err
		}
	}

	return nil
}

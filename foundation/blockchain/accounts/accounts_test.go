package accounts_test

import (
	"errors"
	"math"
	"testing"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/accounts"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_ApplyRevert(t *testing.T) {
	pk, err := crypto.HexToECDSA("fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}
	pub := signature.PublicKey(pk)
	forger := signature.AccountID(pub)

	g := genesis.Genesis{
		Stakes: map[string]uint64{hexutil.Encode(pub): 1000},
	}

	t.Log("Given the need to track stakes as blocks are pushed and popped.")
	{
		act, err := accounts.New(g)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the accounts: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct the accounts.", success)

		if act.EffectiveBalance(forger, 0) != 1000 {
			t.Fatalf("\t%s\tShould seed the stake from genesis.", failed)
		}
		if key, exists := act.PublicKey(forger); !exists || len(key) != 33 {
			t.Fatalf("\t%s\tShould know the genesis public key.", failed)
		}
		t.Logf("\t%s\tShould seed stakes and keys from genesis.", success)

		txs := []database.BlockTx{
			database.NewPaymentTx(1, forger, 42, 300, 5),
			database.NewPaymentTx(2, forger, 43, 600, 5),
		}

		blk, err := database.NewPosBlock(database.NewGenesisBlock(consensus.TestParams()), 1000, pub, txs)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a block: %s", failed, err)
		}
		if err := blk.Sign(pk); err != nil {
			t.Fatalf("\t%s\tShould be able to sign a block: %s", failed, err)
		}
		blk.Height = 1

		if err := act.ValidateBlockTxs(blk); err != nil {
			t.Fatalf("\t%s\tShould accept payments within the balance: %s", failed, err)
		}
		t.Logf("\t%s\tShould accept payments within the balance.", success)

		act.ApplyBlock(blk)
		if got := act.EffectiveBalance(forger, 1); got != 1000-900-10+10 {
			t.Fatalf("\t%s\tShould debit the sender and pay the fees back to the forger, got %d.", failed, got)
		}
		if act.EffectiveBalance(42, 1) != 300 || act.EffectiveBalance(43, 1) != 600 {
			t.Fatalf("\t%s\tShould credit the recipients.", failed)
		}
		t.Logf("\t%s\tShould apply the block.", success)

		over := database.NewPaymentTx(3, forger, 42, 200, 0)
		err = act.ValidateTx(over)
		if !errors.Is(err, database.ErrTxRejected) || !errors.Is(err, database.ErrBlockNotCurrentlyValid) {
			t.Fatalf("\t%s\tShould reject an overdraft as a rejected transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject an overdraft as a rejected transaction.", success)

		act.RevertBlock(blk)
		if act.EffectiveBalance(forger, 0) != 1000 || act.EffectiveBalance(42, 0) != 0 {
			t.Fatalf("\t%s\tShould restore the balances on revert.", failed)
		}
		t.Logf("\t%s\tShould restore the balances on revert.", success)
	}
}

func Test_ValidateBlockTxsInOrder(t *testing.T) {
	pub := make([]byte, 33)
	pub[0] = 2
	pub[32] = 1
	sender := signature.AccountID(pub)

	g := genesis.Genesis{
		Stakes: map[string]uint64{hexutil.Encode(pub): 100},
	}

	t.Log("Given the need to validate a payload as a sequence.")
	{
		act, err := accounts.New(g)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the accounts: %s", failed, err)
		}

		blk := database.Block{
			Txs: []database.BlockTx{
				database.NewPaymentTx(1, sender, 9, 60, 0),
				database.NewPaymentTx(2, sender, 9, 60, 0),
			},
		}

		err = act.ValidateBlockTxs(&blk)
		var rej *database.TxRejectedError
		if !errors.As(err, &rej) || rej.Tx.Timestamp != 2 {
			t.Fatalf("\t%s\tShould reject the second payment that overdraws: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject the second payment that overdraws.", success)
	}
}

func Test_PaymentOverflow(t *testing.T) {
	sender := make([]byte, 33)
	sender[0] = 2
	sender[32] = 1
	rich := make([]byte, 33)
	rich[0] = 2
	rich[32] = 2

	senderID := signature.AccountID(sender)
	richID := signature.AccountID(rich)

	g := genesis.Genesis{
		Stakes: map[string]uint64{
			hexutil.Encode(sender): 10,
			hexutil.Encode(rich):   math.MaxUint64 - 5,
		},
	}

	t.Log("Given the need to keep payment arithmetic inside 64 bits.")
	{
		act, err := accounts.New(g)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the accounts: %s", failed, err)
		}

		wrap := database.NewPaymentTx(1, senderID, 42, math.MaxUint64, 1)
		if err := act.ValidateTx(wrap); !errors.Is(err, database.ErrTxRejected) {
			t.Fatalf("\t%s\tShould reject an amount plus fee that wraps: %v", failed, err)
		}
		if err := act.ValidateBlockTxs(&database.Block{Txs: []database.BlockTx{wrap}}); !errors.Is(err, database.ErrTxRejected) {
			t.Fatalf("\t%s\tShould reject a block carrying an amount plus fee that wraps: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject an amount plus fee that wraps.", success)

		credit := database.NewPaymentTx(2, senderID, richID, 8, 0)
		if err := act.ValidateTx(credit); !errors.Is(err, database.ErrTxRejected) {
			t.Fatalf("\t%s\tShould reject a payment that overflows the recipient: %v", failed, err)
		}
		if err := act.ValidateBlockTxs(&database.Block{Txs: []database.BlockTx{credit}}); !errors.Is(err, database.ErrTxRejected) {
			t.Fatalf("\t%s\tShould reject a block that overflows the recipient: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a payment that overflows the recipient.", success)

		if got := act.EffectiveBalance(richID, 0); got != math.MaxUint64-5 {
			t.Fatalf("\t%s\tShould leave the balances untouched, got %d.", failed, got)
		}

		fits := database.NewPaymentTx(3, senderID, richID, 5, 0)
		if err := act.ValidateTx(fits); err != nil {
			t.Fatalf("\t%s\tShould accept a payment that fits: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a payment that fits.", success)
	}
}

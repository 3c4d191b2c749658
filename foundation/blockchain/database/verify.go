package database

import (
	"bytes"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/merkle"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/target"
)

// VerifySignature checks a POS block was signed by its generator.
func (b *Block) VerifySignature() error {
	if b.IsKey() {
		return nil
	}

	if !signature.Verify(b.unsignedBytes(), b.Signature, b.GeneratorPublicKey) {
		return NewBlockError(ErrBlockNotValid, b.id, "invalid block signature")
	}

	return nil
}

// VerifyWork checks a key block declares the expected target and that its
// proof of work hash falls under it.
func (b *Block) VerifyWork(p consensus.Params, expectedBits uint32) error {
	if !b.IsKey() {
		return nil
	}

	if b.Bits != expectedBits {
		return NewBlockError(ErrBlockNotValid, b.id, "bits %08x, exp %08x", b.Bits, expectedBits)
	}

	if target.Decode(b.Bits).Cmp(target.Decode(p.PowLimitBits)) > 0 {
		return NewBlockError(ErrBlockNotValid, b.id, "target above the proof of work limit")
	}

	if !b.HasValidWork() {
		return NewBlockError(ErrBlockNotValid, b.id, "proof of work hash %s above target", b.PowHash())
	}

	return nil
}

// VerifyPayload checks the transactions match the header commitment and
// the coinbase rules.
func (b *Block) VerifyPayload(p consensus.Params) error {
	if int(b.PayloadLength) != len(b.Txs) {
		return NewBlockError(ErrBlockNotValid, b.id, "payload length %d, got %d transactions", b.PayloadLength, len(b.Txs))
	}

	if len(b.Txs) > p.MaxPayloadTxs+1 {
		return NewBlockError(ErrBlockNotValid, b.id, "too many transactions: %d", len(b.Txs))
	}

	root, err := merkle.Root(b.Txs)
	if err != nil {
		return NewBlockError(ErrBlockNotValid, b.id, "merkle: %s", err)
	}

	if root != b.TxMerkleRoot {
		return NewBlockError(ErrBlockNotValid, b.id, "merkle root does not match transactions")
	}

	for i, tx := range b.Txs {
		switch {
		case tx.Type == TxCoinbase && (i != 0 || !b.IsKey()):
			return NewBlockError(ErrBlockNotValid, b.id, "coinbase only allowed first in a key block")

		case tx.Type != TxCoinbase && tx.Type != TxPayment:
			return NewBlockError(ErrBlockNotValid, b.id, "unknown transaction type %s", tx.Type)
		}
	}

	if b.IsKey() {
		var total uint64
		for _, amount := range b.Rewards() {
			total += amount
		}

		if total != p.KeyBlockReward {
			return NewBlockError(ErrBlockNotValid, b.id, "coinbase pays %d, exp %d", total, p.KeyBlockReward)
		}
	}

	return nil
}

// VerifyPredecessor checks the block commits to the predecessor it claims
// and is newer than it.
func (b *Block) VerifyPredecessor(pred *Block) error {
	if b.Timestamp <= pred.Timestamp {
		return NewBlockError(ErrBlockNotValid, b.id, "timestamp %d not after predecessor %d", b.Timestamp, pred.Timestamp)
	}

	if b.IsKey() {
		return nil
	}

	hash := signature.Hash(pred.Bytes())
	if !bytes.Equal(hash[:], b.PreviousBlockHash[:]) {
		return NewBlockError(ErrBlockNotValid, b.id, "previous block hash does not match %s", pred.StringID())
	}

	return nil
}

// VerifyGenerationSequence recomputes the generation sequence from the
// predecessor. A POS block hashes its generator's public key forward and a
// key block hashes the sequence of the latest POS block forward.
func (b *Block) VerifyGenerationSequence(pred *Block, posPrev *Block) error {
	var exp [32]byte

	switch b.IsKey() {
	case true:
		exp = consensus.NextGenerationSequence(pred.GenerationSequence, posPrev.GenerationSequence[:])
	default:
		exp = consensus.NextGenerationSequence(pred.GenerationSequence, b.GeneratorPublicKey)
	}

	if exp != b.GenerationSequence {
		return NewBlockError(ErrBlockNotValid, b.id, "generation sequence mismatch")
	}

	return nil
}

package database

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/merkle"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/target"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Encoded sizes of the two block shapes.
const (
	PosBlockSize = 2 + 8 + 8 + 4 + 32 + signature.PublicKeyLength + 32 + 32 + signature.SignatureLength
	KeyBlockSize = 2 + 8 + 8 + 8 + 4 + 32 + 32 + 32 + 4 + 8
)

// Block represents either a key block authenticated by proof of work or a
// POS block forged and signed by a stake holder.
//
// Construction happens in two phases. The header fields are set first by
// NewPosBlock, NewKeyBlock or Parse. Finalize then derives the identity,
// which Sign and PerformPOW call on success. The attachment fields are set
// by SetPrevious or loaded from the store.
type Block struct {
	Version            uint16
	Timestamp          int64
	PreviousBlockID    int64
	PreviousKeyBlockID int64 // Key blocks only.
	PayloadLength      uint32
	TxMerkleRoot       [32]byte
	GeneratorPublicKey []byte // POS blocks only.
	GenerationSequence [32]byte
	PreviousBlockHash  [32]byte // POS blocks only.
	ForgersMerkleRoot  [32]byte // Key blocks only.
	Bits               uint32   // Key blocks only.
	Nonce              uint64   // Key blocks only.
	Signature          []byte   // POS blocks only.

	BaseTarget           uint64
	CumulativeDifficulty *big.Int
	StakeBatchDifficulty *big.Int
	Height               uint64
	LocalHeight          uint64
	NextBlockID          *int64

	Txs []BlockTx

	id          int64
	generatorID int64
	finalized   bool
}

// NewPosBlock constructs an unsigned POS block forged on top of prev by the
// owner of the public key.
func NewPosBlock(prev *Block, timestamp int64, publicKey []byte, txs []BlockTx) (*Block, error) {
	if len(publicKey) != signature.PublicKeyLength {
		return nil, fmt.Errorf("public key length %d, exp %d", len(publicKey), signature.PublicKeyLength)
	}

	root, err := merkle.Root(txs)
	if err != nil {
		return nil, err
	}

	b := Block{
		Version:            consensus.PosBlockVersion,
		Timestamp:          timestamp,
		PreviousBlockID:    prev.ID(),
		PayloadLength:      uint32(len(txs)),
		TxMerkleRoot:       root,
		GeneratorPublicKey: bytes.Clone(publicKey),
		GenerationSequence: consensus.NextGenerationSequence(prev.GenerationSequence, publicKey),
		PreviousBlockHash:  signature.Hash(prev.Bytes()),
		Txs:                txs,
	}

	return &b, nil
}

// NewKeyBlock constructs a key block ready to be mined on top of prev. The
// posPrev block is the latest POS block on the branch and keyPrev the latest
// key block, which is nil before the first key block. The first transaction
// must be the coinbase.
func NewKeyBlock(prev *Block, posPrev *Block, keyPrev *Block, timestamp int64, bits uint32, forgersRoot [32]byte, txs []BlockTx) (*Block, error) {
	if len(txs) == 0 || txs[0].Type != TxCoinbase {
		return nil, errors.New("key block requires a coinbase transaction first")
	}

	root, err := merkle.Root(txs)
	if err != nil {
		return nil, err
	}

	var keyPrevID int64
	if keyPrev != nil {
		keyPrevID = keyPrev.ID()
	}

	b := Block{
		Version:            consensus.KeyBlockVersion,
		Timestamp:          timestamp,
		PreviousBlockID:    prev.ID(),
		PreviousKeyBlockID: keyPrevID,
		PayloadLength:      uint32(len(txs)),
		TxMerkleRoot:       root,
		GenerationSequence: consensus.NextGenerationSequence(prev.GenerationSequence, posPrev.GenerationSequence[:]),
		ForgersMerkleRoot:  forgersRoot,
		Bits:               bits,
		Txs:                txs,
	}

	return &b, nil
}

// NewGenesisBlock constructs the root of every chain. A non zero chain id
// seeds the generation sequence so chains with different ids never share a
// genesis or a hit sequence. It's a POS block at
// height zero with no generator and no payload.
func NewGenesisBlock(p consensus.Params) *Block {
	b := Block{
		Version:              consensus.PosBlockVersion,
		GeneratorPublicKey:   make([]byte, signature.PublicKeyLength),
		Signature:            make([]byte, signature.SignatureLength),
		BaseTarget:           p.InitialBaseTarget,
		CumulativeDifficulty: new(big.Int),
		StakeBatchDifficulty: new(big.Int),
	}

	if p.ChainID != 0 {
		var id [2]byte
		binary.LittleEndian.PutUint16(id[:], p.ChainID)
		b.GenerationSequence = consensus.NextGenerationSequence([32]byte{}, id[:])
	}

	// A signed POS shape always finalizes.
	b.Finalize()

	return &b
}

// Parse decodes a block from its canonical encoding and the payload it
// carries, then derives the identity.
func Parse(data []byte, txs []BlockTx) (*Block, error) {
	if len(data) < 2 {
		return nil, NewBlockError(ErrBlockNotValid, 0, "encoding too short: %d bytes", len(data))
	}

	r := bytes.NewReader(data)

	var b Block
	read := func(v any) {
		binary.Read(r, binary.LittleEndian, v)
	}

	read(&b.Version)

	switch b.IsKey() {
	case true:
		if len(data) != KeyBlockSize {
			return nil, NewBlockError(ErrBlockNotValid, 0, "key block encoding is %d bytes, exp %d", len(data), KeyBlockSize)
		}
		read(&b.Timestamp)
		read(&b.PreviousBlockID)
		read(&b.PreviousKeyBlockID)
		read(&b.PayloadLength)
		read(&b.TxMerkleRoot)
		read(&b.GenerationSequence)
		read(&b.ForgersMerkleRoot)
		read(&b.Bits)
		read(&b.Nonce)

	default:
		if len(data) != PosBlockSize {
			return nil, NewBlockError(ErrBlockNotValid, 0, "pos block encoding is %d bytes, exp %d", len(data), PosBlockSize)
		}
		b.GeneratorPublicKey = make([]byte, signature.PublicKeyLength)
		b.Signature = make([]byte, signature.SignatureLength)

		read(&b.Timestamp)
		read(&b.PreviousBlockID)
		read(&b.PayloadLength)
		read(&b.TxMerkleRoot)
		read(b.GeneratorPublicKey)
		read(&b.GenerationSequence)
		read(&b.PreviousBlockHash)
		read(b.Signature)
	}

	b.Txs = txs

	if err := b.Finalize(); err != nil {
		return nil, err
	}

	return &b, nil
}

// =============================================================================

// IsKey reports if this is a key block.
func (b *Block) IsKey() bool {
	return consensus.IsKeyVersion(b.Version)
}

// Bytes returns the canonical encoding of the block. For a POS block the
// signature occupies the trailing bytes.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer

	write := func(v any) {
		binary.Write(&buf, binary.LittleEndian, v)
	}

	write(b.Version)

	switch b.IsKey() {
	case true:
		write(b.Timestamp)
		write(b.PreviousBlockID)
		write(b.PreviousKeyBlockID)
		write(b.PayloadLength)
		write(b.TxMerkleRoot)
		write(b.GenerationSequence)
		write(b.ForgersMerkleRoot)
		write(b.Bits)
		write(b.Nonce)

	default:
		write(b.Timestamp)
		write(b.PreviousBlockID)
		write(b.PayloadLength)
		write(b.TxMerkleRoot)
		buf.Write(fixed(b.GeneratorPublicKey, signature.PublicKeyLength))
		write(b.GenerationSequence)
		write(b.PreviousBlockHash)
		buf.Write(fixed(b.Signature, signature.SignatureLength))
	}

	return buf.Bytes()
}

// unsignedBytes returns the encoding of a POS block without the signature.
func (b *Block) unsignedBytes() []byte {
	data := b.Bytes()
	return data[:len(data)-signature.SignatureLength]
}

// Finalize derives the identity of the block from its encoding. A POS block
// must be signed and a key block must carry its coinbase first.
func (b *Block) Finalize() error {
	switch b.IsKey() {
	case true:
		if len(b.Signature) != 0 || len(b.GeneratorPublicKey) != 0 {
			return NewBlockError(ErrBlockNotValid, 0, "key block carries pos fields")
		}
		if len(b.Txs) == 0 || b.Txs[0].Type != TxCoinbase {
			return NewBlockError(ErrBlockNotValid, 0, "key block missing coinbase")
		}
		b.generatorID = b.Txs[0].RecipientID

	default:
		if len(b.Signature) != signature.SignatureLength {
			return NewBlockError(ErrBlockNotValid, 0, "pos block is not signed")
		}
		if len(b.GeneratorPublicKey) != signature.PublicKeyLength {
			return NewBlockError(ErrBlockNotValid, 0, "pos block public key length %d", len(b.GeneratorPublicKey))
		}
		b.generatorID = signature.AccountID(b.GeneratorPublicKey)
	}

	b.id = signature.ToID(signature.Hash(b.Bytes()))
	b.finalized = true

	return nil
}

// Finalized reports if the identity has been derived.
func (b *Block) Finalized() bool {
	return b.finalized
}

// ID returns the identity of the block. It's zero until the block has been
// finalized.
func (b *Block) ID() int64 {
	return b.id
}

// StringID returns the identity as an unsigned decimal string.
func (b *Block) StringID() string {
	return signature.StringID(b.id)
}

// GeneratorID returns the account that produced the block. For a key block
// it's the recipient of the coinbase.
func (b *Block) GeneratorID() int64 {
	return b.generatorID
}

// Sign signs a POS block with the forger's private key and finalizes it.
func (b *Block) Sign(privateKey *ecdsa.PrivateKey) error {
	if b.IsKey() {
		return errors.New("key blocks are not signed")
	}

	if !bytes.Equal(signature.PublicKey(privateKey), b.GeneratorPublicKey) {
		return errors.New("private key does not match the generator public key")
	}

	sig, err := signature.Sign(b.unsignedBytes(), privateKey)
	if err != nil {
		return err
	}
	b.Signature = sig

	return b.Finalize()
}

// PowHash returns the proof of work hash of a key block.
func (b *Block) PowHash() chainhash.Hash {
	return chainhash.DoubleHashH(b.Bytes())
}

// HasValidWork reports if the proof of work hash is at or below the target
// the block declares.
func (b *Block) HasValidWork() bool {
	hash := b.PowHash()
	return target.Satisfies(blockchain.HashToBig(&hash), b.Bits)
}

// PerformPOW does the work of mining to find a nonce that solves the key
// block's proof of work and finalizes it. Pointer semantics are being used
// since a nonce is being discovered.
func (b *Block) PerformPOW(ctx context.Context, ev func(v string, args ...any)) error {
	if !b.IsKey() {
		return errors.New("pos blocks are not mined")
	}

	ev("database: PerformPOW: MINING: started: bits[%08x]", b.Bits)
	defer ev("database: PerformPOW: MINING: completed")

	for _, tx := range b.Txs {
		ev("database: PerformPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, new(big.Int).SetUint64(math.MaxUint64))
	if err != nil {
		return err
	}
	b.Nonce = nBig.Uint64()

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		if !b.HasValidWork() {
			b.Nonce++
			continue
		}

		if err := b.Finalize(); err != nil {
			return err
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", signature.StringID(b.PreviousBlockID), b.StringID(), attempts)

		return nil
	}
}

// =============================================================================

// TotalAmount returns the amount moved by the payment transactions.
func (b *Block) TotalAmount() uint64 {
	var total uint64
	for _, tx := range b.Txs {
		if tx.Type == TxPayment {
			total += tx.Amount
		}
	}
	return total
}

// TotalFee returns the fees paid by the payment transactions.
func (b *Block) TotalFee() uint64 {
	var total uint64
	for _, tx := range b.Txs {
		if tx.Type == TxPayment {
			total += tx.Fee
		}
	}
	return total
}

// Rewards returns the reward map declared by the coinbase of a key block.
func (b *Block) Rewards() map[int64]uint64 {
	if !b.IsKey() || len(b.Txs) == 0 || b.Txs[0].Type != TxCoinbase {
		return nil
	}

	rewards := make(map[int64]uint64, len(b.Txs[0].Rewards))
	for id, amount := range b.Txs[0].Rewards {
		rewards[id] = amount
	}
	return rewards
}

// Clone returns a copy the caller can change without touching the original.
// The payload is shared.
func (b *Block) Clone() *Block {
	cp := *b
	if b.NextBlockID != nil {
		next := *b.NextBlockID
		cp.NextBlockID = &next
	}
	return &cp
}

// String implements the fmt.Stringer interface for logging.
func (b *Block) String() string {
	kind := "pos"
	if b.IsKey() {
		kind = "key"
	}
	return fmt.Sprintf("%s[%s] h[%d] l[%d]", kind, b.StringID(), b.Height, b.LocalHeight)
}

// =============================================================================

// fixed returns the data padded or cut to the specified size.
func fixed(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}

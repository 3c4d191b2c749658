package database

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// TxType identifies what a block transaction does.
type TxType uint8

// Set of transaction types a block can carry.
const (
	TxPayment  TxType = 0
	TxCoinbase TxType = 1
)

// String implements the fmt.Stringer interface for logging.
func (t TxType) String() string {
	switch t {
	case TxPayment:
		return "payment"
	case TxCoinbase:
		return "coinbase"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block. A key
// block carries a coinbase transaction first, declaring the reward paid to
// each recipient.
type BlockTx struct {
	Type        TxType           `json:"type"`
	Timestamp   int64            `json:"timestamp"`
	SenderID    int64            `json:"sender"`
	RecipientID int64            `json:"recipient"`
	Amount      uint64           `json:"amount"`
	Fee         uint64           `json:"fee"`
	Rewards     map[int64]uint64 `json:"rewards,omitempty"`
}

// NewPaymentTx constructs a payment between two accounts.
func NewPaymentTx(timestamp int64, senderID int64, recipientID int64, amount uint64, fee uint64) BlockTx {
	return BlockTx{
		Type:        TxPayment,
		Timestamp:   timestamp,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
		Fee:         fee,
	}
}

// NewCoinbaseTx constructs the coinbase that pays the key block reward to
// the miner.
func NewCoinbaseTx(timestamp int64, recipientID int64, reward uint64) BlockTx {
	return BlockTx{
		Type:        TxCoinbase,
		Timestamp:   timestamp,
		RecipientID: recipientID,
		Rewards:     map[int64]uint64{recipientID: reward},
	}
}

// Bytes returns the fixed binary form of the transaction. Rewards are
// written in ascending account order so the encoding is deterministic.
func (tx BlockTx) Bytes() []byte {
	var buf bytes.Buffer

	buf.WriteByte(byte(tx.Type))
	binary.Write(&buf, binary.LittleEndian, tx.Timestamp)
	binary.Write(&buf, binary.LittleEndian, tx.SenderID)
	binary.Write(&buf, binary.LittleEndian, tx.RecipientID)
	binary.Write(&buf, binary.LittleEndian, tx.Amount)
	binary.Write(&buf, binary.LittleEndian, tx.Fee)

	ids := make([]int64, 0, len(tx.Rewards))
	for id := range tx.Rewards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	binary.Write(&buf, binary.LittleEndian, uint16(len(ids)))
	for _, id := range ids {
		binary.Write(&buf, binary.LittleEndian, id)
		binary.Write(&buf, binary.LittleEndian, tx.Rewards[id])
	}

	return buf.Bytes()
}

// ID returns the identity of the transaction.
func (tx BlockTx) ID() int64 {
	return signature.ToID(signature.Hash(tx.Bytes()))
}

// Hash implements the merkle Hashable interface for providing a hash
// of a block transaction.
func (tx BlockTx) Hash() ([]byte, error) {
	h := signature.Hash(tx.Bytes())
	return h[:], nil
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions.
func (tx BlockTx) Equals(otherTx BlockTx) bool {
	return bytes.Equal(tx.Bytes(), otherTx.Bytes())
}

// String implements the fmt.Stringer interface for logging.
func (tx BlockTx) String() string {
	return fmt.Sprintf("%s:%s->%s:%d", tx.Type, signature.StringID(tx.SenderID), signature.StringID(tx.RecipientID), tx.Amount)
}

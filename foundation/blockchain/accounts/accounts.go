// Package accounts maintains account stakes and public keys for the
// consensus rules.
package accounts

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
)

// Provider represents the account information the consensus rules read.
type Provider interface {
	EffectiveBalance(accountID int64, height uint64) uint64
	PublicKey(accountID int64) ([]byte, bool)
}

// Info represents information stored for an individual account.
type Info struct {
	PublicKey []byte
	Balance   uint64
}

// Accounts manages data related to accounts who have transacted on
// the blockchain. Balances are kept in whole coins and are the stake an
// account forges with.
type Accounts struct {
	genesis genesis.Genesis
	info    map[int64]Info
	mu      sync.RWMutex
}

// New constructs the accounts from the stakes in the genesis file.
func New(g genesis.Genesis) (*Accounts, error) {
	act := Accounts{
		genesis: g,
	}

	if err := act.Reset(); err != nil {
		return nil, err
	}

	return &act, nil
}

// Reset re-initalizes the accounts back to the genesis information.
func (act *Accounts) Reset() error {
	keys, err := act.genesis.PublicKeys()
	if err != nil {
		return err
	}

	info := make(map[int64]Info)
	for k, stake := range act.genesis.Stakes {
		pk := keys[k]
		info[signature.AccountID(pk)] = Info{PublicKey: pk, Balance: stake}
	}

	act.mu.Lock()
	defer act.mu.Unlock()

	act.info = info
	return nil
}

// Copy makes a copy of the current information for all accounts.
func (act *Accounts) Copy() map[int64]Info {
	act.mu.RLock()
	defer act.mu.RUnlock()

	accounts := make(map[int64]Info, len(act.info))
	for id, info := range act.info {
		accounts[id] = info
	}
	return accounts
}

// EffectiveBalance returns the stake the account forges with. Balances are
// tracked at the tip so the height is not consulted.
func (act *Accounts) EffectiveBalance(accountID int64, height uint64) uint64 {
	act.mu.RLock()
	defer act.mu.RUnlock()

	return act.info[accountID].Balance
}

// PublicKey returns the public key known for the account.
func (act *Accounts) PublicKey(accountID int64) ([]byte, bool) {
	act.mu.RLock()
	defer act.mu.RUnlock()

	info, exists := act.info[accountID]
	if !exists || info.PublicKey == nil {
		return nil, false
	}
	return info.PublicKey, true
}

// ValidateBlockTxs checks every payment in the block can be applied in
// order against the current balances.
func (act *Accounts) ValidateBlockTxs(b *database.Block) error {
	act.mu.RLock()
	defer act.mu.RUnlock()

	pending := make(map[int64]uint64)
	balance := func(id int64) uint64 {
		if v, exists := pending[id]; exists {
			return v
		}
		return act.info[id].Balance
	}

	for _, tx := range b.Txs {
		if tx.Type != database.TxPayment {
			continue
		}

		if err := validatePayment(tx, balance(tx.SenderID)); err != nil {
			return err
		}

		credited, carry := bits.Add64(balance(tx.RecipientID), tx.Amount, 0)
		if carry != 0 {
			return &database.TxRejectedError{Tx: tx, Reason: "recipient balance overflow"}
		}

		pending[tx.SenderID] = balance(tx.SenderID) - tx.Amount - tx.Fee
		pending[tx.RecipientID] = credited
	}

	return nil
}

// ValidateTx checks a single payment against the current balances.
func (act *Accounts) ValidateTx(tx database.BlockTx) error {
	if tx.Type != database.TxPayment {
		return &database.TxRejectedError{Tx: tx, Reason: "only payments can be submitted"}
	}

	act.mu.RLock()
	defer act.mu.RUnlock()

	if err := validatePayment(tx, act.info[tx.SenderID].Balance); err != nil {
		return err
	}

	if _, carry := bits.Add64(act.info[tx.RecipientID].Balance, tx.Amount, 0); carry != 0 {
		return &database.TxRejectedError{Tx: tx, Reason: "recipient balance overflow"}
	}

	return nil
}

// ApplyBlock performs the business logic for applying a block to the
// accounts information.
func (act *Accounts) ApplyBlock(b *database.Block) {
	act.mu.Lock()
	defer act.mu.Unlock()

	if !b.IsKey() && b.Height > 0 {
		gen := act.info[b.GeneratorID()]
		if gen.PublicKey == nil {
			gen.PublicKey = bytes.Clone(b.GeneratorPublicKey)
			act.info[b.GeneratorID()] = gen
		}
	}

	for id, reward := range b.Rewards() {
		act.credit(id, reward)
	}

	for _, tx := range b.Txs {
		if tx.Type != database.TxPayment {
			continue
		}

		act.debit(tx.SenderID, tx.Amount+tx.Fee)
		act.credit(tx.RecipientID, tx.Amount)
		act.credit(b.GeneratorID(), tx.Fee)
	}
}

// RevertBlock undoes what ApplyBlock did for the block.
func (act *Accounts) RevertBlock(b *database.Block) {
	act.mu.Lock()
	defer act.mu.Unlock()

	for i := len(b.Txs) - 1; i >= 0; i-- {
		tx := b.Txs[i]
		if tx.Type != database.TxPayment {
			continue
		}

		act.debit(b.GeneratorID(), tx.Fee)
		act.debit(tx.RecipientID, tx.Amount)
		act.credit(tx.SenderID, tx.Amount+tx.Fee)
	}

	for id, reward := range b.Rewards() {
		act.debit(id, reward)
	}
}

// =============================================================================

func (act *Accounts) credit(id int64, amount uint64) {
	info := act.info[id]
	info.Balance += amount
	act.info[id] = info
}

func (act *Accounts) debit(id int64, amount uint64) {
	info := act.info[id]
	info.Balance -= min(amount, info.Balance)
	act.info[id] = info
}

func validatePayment(tx database.BlockTx, balance uint64) error {
	switch {
	case tx.SenderID == tx.RecipientID:
		return &database.TxRejectedError{Tx: tx, Reason: "sending money to yourself"}

	case tx.Amount == 0:
		return &database.TxRejectedError{Tx: tx, Reason: "zero amount"}

	case tx.Amount > math.MaxUint64-tx.Fee:
		return &database.TxRejectedError{Tx: tx, Reason: "amount plus fee overflows"}

	case balance < tx.Amount+tx.Fee:
		return &database.TxRejectedError{Tx: tx, Reason: fmt.Sprintf("insufficient balance %d, needed %d", balance, tx.Amount+tx.Fee)}
	}

	return nil
}

// Package nameservice reads the zblock/accounts folder and creates a name
// service lookup for the stake holder accounts. The key files it reads are
// also what the node forges with on boot.
package nameservice

import (
	"crypto/ecdsa"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	accounts map[int64]string
	keys     map[string]*ecdsa.PrivateKey
}

// New constructs a name service with accounts from the specified folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[int64]string),
		keys:     make(map[string]*ecdsa.PrivateKey),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}

		name := strings.TrimSuffix(path.Base(fileName), ".ecdsa")
		accountID := signature.AccountID(signature.PublicKey(privateKey))

		ns.accounts[accountID] = name
		ns.keys[name] = privateKey

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified account. Unknown accounts are
// rendered as their unsigned id.
func (ns *NameService) Lookup(accountID int64) string {
	name, exists := ns.accounts[accountID]
	if !exists {
		return signature.StringID(accountID)
	}
	return name
}

// PrivateKey returns the key loaded from the file with the specified name.
func (ns *NameService) PrivateKey(name string) (*ecdsa.PrivateKey, bool) {
	pk, exists := ns.keys[name]
	return pk, exists
}

// Names returns the sorted names of the loaded keys.
func (ns *NameService) Names() []string {
	names := make([]string, 0, len(ns.keys))
	for name := range ns.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copy returns a copy of the map of names and accounts.
func (ns *NameService) Copy() map[int64]string {
	cpy := make(map[int64]string, len(ns.accounts))
	for account, name := range ns.accounts {
		cpy[account] = name
	}
	return cpy
}

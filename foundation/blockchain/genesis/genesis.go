// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date           time.Time         `json:"date"`             // Epoch all block timestamps count from.
	ChainID        uint16            `json:"chain_id"`         // The chain id represents an unique id for this running instance.
	TransPerBlock  uint16            `json:"trans_per_block"`  // The maximum number of transactions that can be in a block.
	KeyBlockReward uint64            `json:"key_block_reward"` // Reward paid by the coinbase of a key block.
	Stakes         map[string]uint64 `json:"stakes"`           // Compressed public key in hex to the starting stake.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if _, err := genesis.PublicKeys(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// PublicKeys decodes the stake holder public keys.
func (g Genesis) PublicKeys() (map[string][]byte, error) {
	keys := make(map[string][]byte, len(g.Stakes))
	for k := range g.Stakes {
		pk, err := hexutil.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("stake key %q: %w", k, err)
		}
		if len(pk) != 33 {
			return nil, fmt.Errorf("stake key %q: not a compressed public key", k)
		}
		keys[k] = pk
	}

	return keys, nil
}

// Apply overrides the protocol parameters the genesis file controls.
func (g Genesis) Apply(p consensus.Params) consensus.Params {
	if !g.Date.IsZero() {
		p.Epoch = g.Date
	}
	p.ChainID = g.ChainID
	if g.KeyBlockReward > 0 {
		p.KeyBlockReward = g.KeyBlockReward
	}
	if g.TransPerBlock > 0 {
		p.MaxPayloadTxs = int(g.TransPerBlock)
	}

	return p
}

package generator

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/accounts"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
)

// ActiveConfig represents the configuration required to track the active
// forgers.
type ActiveConfig struct {
	Params    consensus.Params
	DB        *database.Database
	Finder    database.PosFinder // Defaults to DB.
	Accounts  accounts.Provider
	EvHandler EventHandler
}

// ActiveSet counts the POS blocks each account forged over the trailing
// window of POS blocks and commits to the active forgers with a merkle root
// carried by key blocks.
type ActiveSet struct {
	params   consensus.Params
	db       *database.Database
	finder   database.PosFinder
	accounts accounts.Provider
	ev       EventHandler

	mu     sync.Mutex
	counts map[int64]int
	root   *[32]byte
}

// NewActiveSet constructs the set and loads it from the store.
func NewActiveSet(cfg ActiveConfig) (*ActiveSet, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	finder := cfg.Finder
	if finder == nil {
		finder = cfg.DB
	}

	as := ActiveSet{
		params:   cfg.Params,
		db:       cfg.DB,
		finder:   finder,
		accounts: cfg.Accounts,
		ev:       ev,
	}

	if err := as.Load(); err != nil {
		return nil, err
	}

	return &as, nil
}

// Load rebuilds the counts from the store.
func (as *ActiveSet) Load() error {
	last, err := as.db.LastPosBlock()
	if err != nil {
		return fmt.Errorf("active set: %w", err)
	}

	counts, err := as.db.GeneratorActivity(as.windowStart(last.LocalHeight))
	if err != nil {
		return fmt.Errorf("active set: %w", err)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	as.counts = counts
	as.root = nil

	return nil
}

// Listener returns the callbacks that keep the set current with the chain.
func (as *ActiveSet) Listener() state.Listener {
	return state.Listener{
		BlockPushed: as.blockPushed,
		BlockPopped: as.blockPopped,
		RescanEnd: func(tip *database.Block) {
			if err := as.Load(); err != nil {
				as.ev("generator: ActiveSet: ERROR: %s", err)
			}
		},
	}
}

// Active returns a copy of the block counts per account.
func (as *ActiveSet) Active() map[int64]int {
	as.mu.Lock()
	defer as.mu.Unlock()

	out := make(map[int64]int, len(as.counts))
	for id, n := range as.counts {
		out[id] = n
	}
	return out
}

// ForgersRoot returns the commitment to the active forgers holding at least
// the minimum stake. Each node is the compressed public key followed by the
// effective balance truncated to 32 bits. Nodes are hashed in ascending
// stake order, ties by account id. The value is cached until the set
// changes.
func (as *ActiveSet) ForgersRoot(height uint64) [32]byte {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.root != nil {
		return *as.root
	}

	type forger struct {
		id  int64
		pub []byte
		eb  uint64
	}

	var forgers []forger
	for id := range as.counts {
		eb := as.accounts.EffectiveBalance(id, height)
		if eb < as.params.MinForgerStake {
			continue
		}

		pub, exists := as.accounts.PublicKey(id)
		if !exists {
			continue
		}

		forgers = append(forgers, forger{id: id, pub: pub, eb: eb})
	}

	sort.Slice(forgers, func(i, j int) bool {
		if forgers[i].eb != forgers[j].eb {
			return forgers[i].eb < forgers[j].eb
		}
		return forgers[i].id < forgers[j].id
	})

	root := signature.ZeroHash
	if len(forgers) > 0 {
		h := sha256.New()
		node := make([]byte, signature.PublicKeyLength+4)
		for _, f := range forgers {
			copy(node, f.pub)
			binary.LittleEndian.PutUint32(node[signature.PublicKeyLength:], uint32(min(f.eb, math.MaxUint32)))
			h.Write(node)
		}
		copy(root[:], h.Sum(nil))
	}

	as.root = &root

	return root
}

// =============================================================================

func (as *ActiveSet) blockPushed(b *database.Block) {
	if b.IsKey() || b.Height == 0 {
		return
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	as.add(b.GeneratorID(), 1)

	// The block leaving the window ages out.
	if old := as.leaving(b.LocalHeight); old != nil {
		as.add(old.GeneratorID(), -1)
	}

	as.root = nil
}

func (as *ActiveSet) blockPopped(b *database.Block) {
	if b.IsKey() || b.Height == 0 {
		return
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	as.add(b.GeneratorID(), -1)

	// The block that left the window comes back.
	if old := as.leaving(b.LocalHeight); old != nil {
		as.add(old.GeneratorID(), 1)
	}

	as.root = nil
}

// leaving returns the POS block that drops out of the window when the block
// at the specified local height is pushed. It assumes the lock is held.
func (as *ActiveSet) leaving(local uint64) *database.Block {
	window := as.params.ActiveForgerWindow
	if window == 0 || local <= window {
		return nil
	}

	blk, err := as.finder.PosBlockAtLocalHeight(local - window)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			as.ev("generator: ActiveSet: ERROR: local[%d]: %s", local-window, err)
		}
		return nil
	}

	if blk.Height == 0 {
		return nil
	}

	return blk
}

// add applies the delta to the account's count and evicts it at zero. It
// assumes the lock is held.
func (as *ActiveSet) add(id int64, delta int) {
	n := as.counts[id] + delta
	if n <= 0 {
		delete(as.counts, id)
		return
	}
	as.counts[id] = n
}

// windowStart returns the first local height inside the window ending at
// the specified local height.
func (as *ActiveSet) windowStart(local uint64) uint64 {
	window := as.params.ActiveForgerWindow
	if window == 0 || local < window {
		return 0
	}
	return local - window + 1
}

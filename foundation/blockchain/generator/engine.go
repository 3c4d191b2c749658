package generator

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
)

// EventHandler defines a function that is called when events occur in the
// processing of forging.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct the engine.
type Config struct {
	State     *state.State
	EvHandler EventHandler
}

// Engine schedules forging for every local generator. Tick is expected to be
// called at a fixed interval by a single goroutine.
type Engine struct {
	state *state.State
	ev    EventHandler

	mu         sync.Mutex
	generators map[int64]*Generator
	sorted     []*Generator
	armedTip   int64
	rearm      bool
}

// New constructs an engine with no generators.
func New(cfg Config) *Engine {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Engine{
		state:      cfg.State,
		ev:         ev,
		generators: make(map[int64]*Generator),
	}
}

// StartForging adds the key to the local generators. The generator is armed
// against the current tip right away.
func (e *Engine) StartForging(privateKey *ecdsa.PrivateKey) Generator {
	g := newGenerator(privateKey)

	tip := e.state.LastBlock()
	g.arm(tip, e.state.LastPosBlock(), e.state.RetrieveBalance(g.AccountID))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.generators[g.AccountID] = g
	e.rearm = true

	e.ev("generator: StartForging: acct[%s]: eb[%d]: hitTime[%d]", signature.StringID(g.AccountID), g.EffectiveBalance, g.HitTime)

	return g.copy()
}

// StopForging removes the key from the local generators. It reports if the
// key was forging.
func (e *Engine) StopForging(privateKey *ecdsa.PrivateKey) bool {
	id := signature.AccountID(signature.PublicKey(privateKey))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.generators[id]; !exists {
		return false
	}

	delete(e.generators, id)
	e.rearm = true

	e.ev("generator: StopForging: acct[%s]", signature.StringID(id))

	return true
}

// StopAll removes every local generator.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generators = make(map[int64]*Generator)
	e.sorted = nil
	e.rearm = true
}

// Generator returns the local generator for the account.
func (e *Engine) Generator(accountID int64) (Generator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, exists := e.generators[accountID]
	if !exists {
		return Generator{}, false
	}

	return g.copy(), true
}

// Generators returns the local generators in forging order.
func (e *Engine) Generators() []Generator {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Generator, 0, len(e.generators))
	for _, g := range e.generators {
		out = append(out, g.copy())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].before(&out[j])
	})

	return out
}

// NextHitTime returns the earliest hit time among the armed generators. It
// returns false when nothing is armed.
func (e *Engine) NextHitTime() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := int64(math.MaxInt64)
	for _, g := range e.generators {
		if g.Armed() && g.HitTime < next {
			next = g.HitTime
		}
	}

	return next, next != math.MaxInt64
}

// Tick runs one scheduling round at the specified epoch time inside the
// chain's update section. Blocks refused by the chain are logged. Any other
// error is returned.
func (e *Engine) Tick(now int64) error {
	return e.state.Update(func(l *state.Locked) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if len(e.generators) == 0 {
			return nil
		}

		if e.rearm || e.armedTip != l.Tip().ID() {
			popped, err := e.popOffCheck(l, now)
			if err != nil {
				return err
			}
			if popped != nil {
				e.ev("generator: Tick: popped off blk[%s]: local generator wins on its predecessor", popped.StringID())
			}

			e.arm(l)
		}

		for _, g := range e.sorted {
			if g.HitTime > now {
				continue
			}

			forged, err := e.forge(l, g, now)
			if err != nil {
				return err
			}

			if forged {
				return nil
			}
		}

		return nil
	})
}

// =============================================================================

// arm recomputes the hit of every generator against the tip and orders the
// armed ones. It assumes both locks are held.
func (e *Engine) arm(l *state.Locked) {
	tip := l.Tip()
	posPrev := l.LastPosBlock()

	e.sorted = e.sorted[:0]
	for _, g := range e.generators {
		g.arm(tip, posPrev, l.EffectiveBalance(g.AccountID))
		if g.Armed() {
			e.sorted = append(e.sorted, g)
		}
	}

	sort.Slice(e.sorted, func(i, j int) bool {
		return e.sorted[i].before(e.sorted[j])
	})

	e.armedTip = tip.ID()
	e.rearm = false

	e.ev("generator: arm: tip[%s]: height[%d]: armed[%d]", tip.StringID(), tip.Height, len(e.sorted))
}

// popOffCheck looks at a POS tip produced by someone else. If a local
// generator would have forged an earlier block on the tip's predecessor,
// the tip is popped so the next round forges on the predecessor. It assumes
// both locks are held.
func (e *Engine) popOffCheck(l *state.Locked, now int64) (*database.Block, error) {
	p := l.Params()
	tip := l.Tip()

	if tip.Height == 0 || tip.IsKey() || tip.LocalHeight == 0 {
		return nil, nil
	}

	if _, local := e.generators[tip.GeneratorID()]; local {
		return nil, nil
	}

	if now-tip.Timestamp > p.PopOffWindow*1000 {
		return nil, nil
	}

	pred, err := l.BlockAtHeight(tip.Height - 1)
	if err != nil {
		return nil, fmt.Errorf("pop off check: %w", err)
	}

	posPrev := pred
	if pred.IsKey() {
		posPrev, err = l.PosBlockAtLocalHeight(tip.LocalHeight - 1)
		if err != nil {
			return nil, fmt.Errorf("pop off check: %w", err)
		}
	}

	competitor := false
	for _, g := range e.generators {
		c := *g
		c.arm(pred, posPrev, l.EffectiveBalance(g.AccountID))
		if c.Armed() && c.HitTime+1000 < tip.Timestamp && c.HitTime <= now {
			competitor = true
			break
		}
	}

	if !competitor {
		return nil, nil
	}

	return l.PopLastBlock()
}

// forge builds, signs and pushes a block for the generator. Payments the
// chain rejects are dropped from the mempool and the block is rebuilt until
// the retry window runs out. It assumes both locks are held.
func (e *Engine) forge(l *state.Locked, g *Generator, now int64) (bool, error) {
	p := l.Params()
	tip := l.Tip()
	ts := p.ForgingTimestamp(g.HitTime, now)

	start := time.Now()
	for {
		blk, err := database.NewPosBlock(tip, ts, g.PublicKey, l.PickTxs(p.MaxPayloadTxs))
		if err != nil {
			return false, err
		}

		if err := blk.Sign(g.privateKey); err != nil {
			return false, err
		}

		err = l.PushBlock(blk)
		if err == nil {
			e.ev("generator: forge: acct[%s]: blk[%s]: height[%d]: txs[%d]", signature.StringID(g.AccountID), blk.StringID(), blk.Height, len(blk.Txs))
			return true, nil
		}

		var txErr *database.TxRejectedError
		if errors.As(err, &txErr) && time.Since(start) < p.TxRejectRetry {
			e.ev("generator: forge: dropping tx[%s]: %s", signature.StringID(txErr.Tx.ID()), txErr.Reason)
			l.DropTx(txErr.Tx)
			continue
		}

		if isBlockError(err) {
			e.ev("generator: forge: acct[%s]: block refused: %s", signature.StringID(g.AccountID), err)
			return false, nil
		}

		return false, err
	}
}

// isBlockError reports if the chain refused the block on consensus grounds.
func isBlockError(err error) bool {
	return errors.Is(err, database.ErrBlockNotValid) ||
		errors.Is(err, database.ErrBlockNotCurrentlyValid) ||
		errors.Is(err, database.ErrBlockOutOfOrder)
}

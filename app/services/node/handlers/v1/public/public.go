// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/hybridchain/business/web/errs"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/generator"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
	"github.com/ardanlabs/hybridchain/foundation/events"
	"github.com/ardanlabs/hybridchain/foundation/nameservice"
	"github.com/ardanlabs/hybridchain/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	State  *state.State
	Engine *generator.Engine
	Active *generator.ActiveSet
	NS     *nameservice.NameService
	WS     websocket.Upgrader
	Evts   *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns a summary of the chain and the local forgers.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip := h.State.LastBlock()
	pos := h.State.LastPosBlock()

	bits, err := h.State.NextBits()
	if err != nil {
		return err
	}

	keys, poss := h.State.RetrieveCacheSize()

	st := status{
		ChainID:              h.State.Params().ChainID,
		Height:               tip.Height,
		Tip:                  tip.StringID(),
		CumulativeDifficulty: tip.CumulativeDifficulty.String(),
		LastPosBlock:         pos.StringID(),
		BaseTarget:           pos.BaseTarget,
		NextBits:             hexutil.EncodeUint64(uint64(bits)),
		Mempool:              h.State.RetrieveMempoolLength(),
		CachedKeyBlocks:      keys,
		CachedPosBlocks:      poss,
		Forging:              len(h.Engine.Generators()),
	}

	if key, err := h.State.LastKeyBlock(); err == nil {
		id := key.StringID()
		st.LastKeyBlock = &id
	}

	if next, armed := h.Engine.NextHitTime(); armed {
		st.NextHitTime = &next
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// LastBlock returns the tip of the chain.
func (h Handlers) LastBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, toBlock(h.State.LastBlock(), h.NS), http.StatusOK)
}

// LastKeyBlock returns the latest key block on the chain.
func (h Handlers) LastKeyBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blk, err := h.State.LastKeyBlock()
	if err != nil {
		return errs.FromChain(fmt.Errorf("last key block: %w", err))
	}

	return web.Respond(ctx, w, toBlock(blk, h.NS), http.StatusOK)
}

// BlockByID returns the block with the specified unsigned decimal id.
func (h Handlers) BlockByID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := signature.ParseStringID(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blk, err := h.State.BlockByID(id)
	if err != nil {
		return errs.FromChain(fmt.Errorf("block %s: %w", web.Param(r, "id"), err))
	}

	return web.Respond(ctx, w, toBlock(blk, h.NS), http.StatusOK)
}

// BlockAtHeight returns the block at the specified height on the best chain.
func (h Handlers) BlockAtHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := web.ParseUint(r, "height")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blk, err := h.State.BlockAtHeight(height)
	if err != nil {
		return errs.FromChain(fmt.Errorf("height %d: %w", height, err))
	}

	return web.Respond(ctx, w, toBlock(blk, h.NS), http.StatusOK)
}

// BlockAtLocalHeight returns the key or pos block at the specified local
// height.
func (h Handlers) BlockAtLocalHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var key bool
	switch kind := web.Param(r, "kind"); kind {
	case "key":
		key = true
	case "pos":
	default:
		return errs.NewTrusted(fmt.Errorf("kind %q: must be key or pos", kind), http.StatusBadRequest)
	}

	local, err := web.ParseUint(r, "local")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blk, err := h.State.BlockAtLocalHeight(key, local)
	if err != nil {
		return errs.FromChain(fmt.Errorf("local height %d: %w", local, err))
	}

	return web.Respond(ctx, w, toBlock(blk, h.NS), http.StatusOK)
}

// BlocksAfter returns the blocks above the specified height. The limit query
// parameter bounds the result.
func (h Handlers) BlocksAfter(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := web.ParseUint(r, "height")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	limit := state.QueryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return errs.NewTrusted(fmt.Errorf("limit: %w", err), http.StatusBadRequest)
		}
	}

	blks, err := h.State.BlocksAfter(height, limit)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toBlocks(blks, h.NS), http.StatusOK)
}

// Generators returns the local forgers ordered by their hit.
func (h Handlers) Generators(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip := h.State.LastBlock()

	gens := h.Engine.Generators()
	out := make([]forger, len(gens))
	for i, g := range gens {
		out[i] = toForger(g, tip.Timestamp, h.NS)
	}

	return web.Respond(ctx, w, out, http.StatusOK)
}

// ActiveGenerators returns the forgers active over the trailing window and
// the commitment the next key block will carry.
func (h Handlers) ActiveGenerators(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip := h.State.LastBlock()
	root := h.Active.ForgersRoot(tip.Height)

	act := active{
		ForgersRoot: hexutil.Encode(root[:]),
		Blocks:      make(map[string]int),
	}
	for id, n := range h.Active.Active() {
		act.Blocks[signature.StringID(id)] = n
	}

	return web.Respond(ctx, w, act, http.StatusOK)
}

// Account returns the effective balance of an account. The account can be
// given by unsigned id or by name.
func (h Handlers) Account(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	param := web.Param(r, "account")

	id, err := signature.ParseStringID(param)
	if err != nil {
		pk, exists := h.NS.PrivateKey(param)
		if !exists {
			return errs.NewTrusted(errors.New("unknown account"), http.StatusNotFound)
		}
		id = signature.AccountID(signature.PublicKey(pk))
	}

	acct := account{
		Account:          signature.StringID(id),
		Name:             h.NS.Lookup(id),
		EffectiveBalance: h.State.RetrieveBalance(id),
	}

	return web.Respond(ctx, w, acct, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mempool := h.State.RetrieveMempool()

	trans := make([]tx, len(mempool))
	for i, tran := range mempool {
		trans[i] = tx{
			ID:        signature.StringID(tran.ID()),
			Type:      tran.Type.String(),
			Timestamp: tran.Timestamp,
			From:      signature.StringID(tran.SenderID),
			FromName:  h.NS.Lookup(tran.SenderID),
			To:        signature.StringID(tran.RecipientID),
			ToName:    h.NS.Lookup(tran.RecipientID),
			Amount:    tran.Amount,
			Fee:       tran.Fee,
			Rewards:   tran.Rewards,
		}
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

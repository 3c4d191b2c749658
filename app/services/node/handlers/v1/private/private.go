// Package private maintains the group of handlers for node and operator
// access.
package private

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ardanlabs/hybridchain/business/web/errs"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/generator"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
	"github.com/ardanlabs/hybridchain/foundation/nameservice"
	"github.com/ardanlabs/hybridchain/foundation/web"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Handlers manages the set of private node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	State  *state.State
	Engine *generator.Engine
	NS     *nameservice.NameService
}

// PushBlock takes a block received from a peer, validates it and if that
// passes, adds the block to the local blockchain.
func (h Handlers) PushBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var bd database.BlockData
	if err := web.Decode(r, &bd); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	blk, err := database.ParseBlockData(bd)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to parse block: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("push block", "traceid", v.TraceID, "blk", blk.StringID(), "key", blk.IsKey())

	if err := h.State.PushBlock(blk); err != nil {
		return errs.FromChain(err)
	}

	resp := struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		Height uint64 `json:"height"`
	}{
		Status: "accepted",
		ID:     blk.StringID(),
		Height: blk.Height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ProcessFork takes a branch of blocks, lowest first, and switches to it
// when it carries more cumulative difficulty than the current chain.
func (h Handlers) ProcessFork(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var bds []database.BlockData
	if err := web.Decode(r, &bds); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if len(bds) == 0 {
		return errs.NewTrusted(errors.New("empty branch"), http.StatusBadRequest)
	}

	branch := make([]*database.Block, len(bds))
	for i, bd := range bds {
		blk, err := database.ParseBlockData(bd)
		if err != nil {
			return errs.NewTrusted(fmt.Errorf("unable to parse block %d: %w", i, err), http.StatusBadRequest)
		}
		branch[i] = blk
	}

	h.Log.Infow("process fork", "traceid", v.TraceID, "blocks", len(branch))

	if err := h.State.ProcessFork(branch); err != nil {
		return errs.FromChain(err)
	}

	tip := h.State.LastBlock()

	resp := struct {
		Tip    string `json:"tip"`
		Height uint64 `json:"height"`
	}{
		Tip:    tip.StringID(),
		Height: tip.Height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// PopOffTo truncates the chain to the specified height. The popped blocks
// are returned tip first.
func (h Handlers) PopOffTo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := web.ParseUint(r, "height")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	popped, err := h.State.PopOffTo(height)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	ids := make([]string, len(popped))
	for i, blk := range popped {
		ids[i] = blk.StringID()
	}

	return web.Respond(ctx, w, ids, http.StatusOK)
}

// Rescan rebuilds the derived state by replaying the chain from genesis.
func (h Handlers) Rescan(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.Rescan(); err != nil {
		return err
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// SubmitTransaction adds a new transaction to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.BlockTx
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if tx.Type != database.TxPayment {
		return errs.NewTrusted(fmt.Errorf("transaction type %s can't be submitted", tx.Type), http.StatusBadRequest)
	}

	if tx.Timestamp == 0 {
		tx.Timestamp = h.State.Now()
	}

	h.Log.Infow("add tran", "traceid", v.TraceID, "from", tx.SenderID, "to", tx.RecipientID, "amount", tx.Amount, "fee", tx.Fee)

	n, err := h.State.UpsertMempool(tx)
	if err != nil {
		return errs.FromChain(err)
	}

	resp := struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Mempool int    `json:"mempool"`
	}{
		Status:  "transaction added to mempool",
		ID:      signature.StringID(tx.ID()),
		Mempool: n,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// forgingRequest names a key loaded by the name service or carries a hex
// encoded private key.
type forgingRequest struct {
	Name       string `json:"name" validate:"required_without=PrivateKey"`
	PrivateKey string `json:"private_key" validate:"omitempty,hexadecimal"`
}

// StartForging begins forging with the key.
func (h Handlers) StartForging(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req forgingRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	pk, err := h.resolve(req)
	if err != nil {
		return err
	}

	g := h.Engine.StartForging(pk)

	h.Log.Infow("start forging", "traceid", web.GetTraceID(ctx), "account", signature.StringID(g.AccountID), "armed", g.Armed())

	resp := struct {
		Account          string `json:"account"`
		EffectiveBalance uint64 `json:"effective_balance"`
		HitTime          int64  `json:"hit_time"`
		Armed            bool   `json:"armed"`
	}{
		Account:          signature.StringID(g.AccountID),
		EffectiveBalance: g.EffectiveBalance,
		HitTime:          g.HitTime,
		Armed:            g.Armed(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// StopForging stops forging with the key.
func (h Handlers) StopForging(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req forgingRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	pk, err := h.resolve(req)
	if err != nil {
		return err
	}

	if !h.Engine.StopForging(pk) {
		return errs.NewTrusted(errors.New("account is not forging"), http.StatusNotFound)
	}

	h.Log.Infow("stop forging", "traceid", web.GetTraceID(ctx), "account", signature.StringID(signature.AccountID(signature.PublicKey(pk))))

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

func (h Handlers) resolve(req forgingRequest) (*ecdsa.PrivateKey, error) {
	if req.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(req.PrivateKey, "0x"))
		if err != nil {
			return nil, errs.NewTrusted(fmt.Errorf("private key: %w", err), http.StatusBadRequest)
		}
		return pk, nil
	}

	pk, exists := h.NS.PrivateKey(req.Name)
	if !exists {
		return nil, errs.NewTrusted(fmt.Errorf("no key named %q", req.Name), http.StatusNotFound)
	}
	return pk, nil
}

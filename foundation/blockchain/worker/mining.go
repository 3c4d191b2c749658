package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
)

// miningOperations handles key block mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation mines a key block on top of the current tip and pushes
// it to the chain.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// If mining is signalled to be cancelled by PushBlock, this G can't
	// terminate until it is told it can.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runMiningOperation: MINING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runMiningOperation: MINING: termination signal: received")
		}
	}()

	// Drain the cancel mining channel before starting.
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runMiningOperation: MINING: drained cancel channel")
	default:
	}

	// Create a context so mining can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		blk, err := w.mineKeyBlock(ctx)
		duration := time.Since(t)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil {
			switch {
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		w.evHandler("worker: runMiningOperation: MINING: pushed blk[%s]: height[%d]", blk.StringID(), blk.Height)
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}

// mineKeyBlock builds a template on the tip, solves its proof of work and
// pushes it.
func (w *Worker) mineKeyBlock(ctx context.Context) (*database.Block, error) {
	tip := w.state.LastBlock()

	var root [32]byte
	if w.active != nil {
		root = w.active.ForgersRoot(tip.Height)
	}

	blk, err := w.state.KeyBlockTemplate(w.minerID, root)
	if err != nil {
		return nil, err
	}

	if err := blk.PerformPOW(ctx, w.evHandler); err != nil {
		return nil, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := w.state.PushBlock(blk); err != nil {
		if errors.Is(err, database.ErrBlockNotCurrentlyValid) {
			w.evHandler("worker: mineKeyBlock: MINING: tip moved while mining: %s", err)
		}
		return nil, err
	}

	return blk, nil
}

package worker

import (
	"fmt"
)

// forgingOperations drives the forging engine on every tick of the ticker.
// Each tick also keeps key block mining going when it's turned on.
func (w *Worker) forgingOperations() {
	w.evHandler("worker: forgingOperations: G started")
	defer w.evHandler("worker: forgingOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runForgingOperation()
				w.SignalStartMining()
			}
		case <-w.shut:
			w.evHandler("worker: forgingOperations: received shut signal")
			return
		}
	}
}

// runForgingOperation runs one forging round. A failure here means the local
// forging state can't be trusted to match the chain, so it's handed to the
// fatal hook.
func (w *Worker) runForgingOperation() {
	defer func() {
		if r := recover(); r != nil {
			w.fatal(fmt.Errorf("forging: PANIC: %v", r))
		}
	}()

	if err := w.engine.Tick(w.state.Now()); err != nil {
		w.fatal(fmt.Errorf("forging: %w", err))
	}
}

package worker

import (
	"errors"

	"github.com/hubcoin/hubcoin/foundation/blockchain/state"
)

// miningOperations handles mining.
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

// runMiningOperation mines the next block crediting the node's configured
// miner address. The proof of work runs to completion; a stale result is
// discarded by the state's post mine race check.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	_, err := w.state.MineBlock(w.state.MinerAddress())
	if err != nil {
		switch {
		case errors.Is(err, state.ErrBlockAlreadyMined):
			w.evHandler("worker: runMiningOperation: MINING: discarded: %s", err)
		default:
			w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
		}
	}
}

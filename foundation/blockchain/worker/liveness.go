package worker

import (
	"time"
)

// livenessOperations prunes silent peers and pings the survivors on every
// tick of the ping interval. Only the central hub runs this task.
func (w *Worker) livenessOperations() {
	w.evHandler("worker: livenessOperations: G started")
	defer w.evHandler("worker: livenessOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runLivenessOperation()
			}
		case <-w.shut:
			w.evHandler("worker: livenessOperations: received shut signal")
			return
		}
	}
}

// runLivenessOperation checks every peer that has been pinged: a pong
// landing within half the interval after its ping keeps the peer; a peer
// silent for longer than half the interval past its latest ping is
// removed. Every surviving peer then receives a fresh ping.
func (w *Worker) runLivenessOperation() {
	w.evHandler("worker: runLivenessOperation: started")
	defer w.evHandler("worker: runLivenessOperation: completed")

	interval := w.state.PingInterval()
	peers := w.state.KnownPeerSet()
	now := time.Now()

	for _, p := range w.state.RetrieveKnownPeers() {
		ping, pinged := peers.LastPingSent(p)
		if !pinged {
			continue
		}

		alive := false
		if pong, ok := peers.LastPongReceived(p); ok {
			if pong.After(ping) && pong.Sub(ping) <= interval/2 {
				alive = true
			}
		}

		if !alive && now.Sub(ping) > interval/2 {
			w.evHandler("worker: runLivenessOperation: pruning silent peer[%s]", p)
			w.state.RemovePeer(p)
		}
	}

	for _, p := range w.state.RetrieveKnownPeers() {
		w.state.NetSendPing(p)
	}
}

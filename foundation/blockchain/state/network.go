package state

import (
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/storage/sqlite"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
	"github.com/pkg/errors"
)

// HandleMessage implements the transport.Handler interface. The transport
// invokes it with every received envelope and the transport observed
// remote host; the sender's listening endpoint is reconstructed from the
// envelope's from port.
func (s *State) HandleMessage(msg wire.Message, fromHost string) {
	from := peer.New(fromHost, msg.FromPort)

	s.evHandler("state: HandleMessage: %s from peer[%s]", msg.Command, from)

	switch msg.Command {
	case wire.CmdVersion:
		payload, err := wire.DecodePayload[wire.VersionPayload](msg)
		if err != nil {
			s.evHandler("state: HandleMessage: dropping: %s", err)
			return
		}
		s.handleVersion(from, payload)

	case wire.CmdGetTransactions:
		s.handleGetTransactions(from)

	case wire.CmdTransactions:
		payload, err := wire.DecodePayload[wire.TransactionsPayload](msg)
		if err != nil {
			s.evHandler("state: HandleMessage: dropping: %s", err)
			return
		}
		s.handleTransactions(from, msg, payload)

	case wire.CmdGetBlocks:
		payload, err := wire.DecodePayload[wire.GetBlocksPayload](msg)
		if err != nil {
			s.evHandler("state: HandleMessage: dropping: %s", err)
			return
		}
		s.handleGetBlocks(from, payload)

	case wire.CmdBlocks:
		payload, err := wire.DecodePayload[wire.BlocksPayload](msg)
		if err != nil {
			s.evHandler("state: HandleMessage: dropping: %s", err)
			return
		}
		s.handleBlocks(from, msg, payload)

	case wire.CmdPing:
		// The transport already replied with a PONG; record the
		// sighting here.
		s.knownPeers.MarkSeen(from, time.Now())

	case wire.CmdPong:
		s.knownPeers.RecordPongReceived(from, time.Now())
	}
}

// =============================================================================

// handleVersion runs the handshake: a node behind pulls blocks and
// mempool, a node ahead re-announces itself, and the hub learns peers.
func (s *State) handleVersion(from peer.Peer, payload wire.VersionPayload) {
	if payload.Version != s.version {
		s.evHandler("state: handleVersion: dropping: version mismatch, got %d, exp %d", payload.Version, s.version)
		return
	}

	height, err := s.chain.Height()
	if err != nil {
		s.evHandler("state: handleVersion: ERROR: %s", err)
		return
	}
	localHeight := int(height)

	switch {
	case localHeight < payload.BlockHeight:
		s.evHandler("state: handleVersion: behind peer[%s]: height %d < %d: requesting blocks", from, localHeight, payload.BlockHeight)

		latest, err := s.chain.LatestBlockHash()
		if err != nil {
			s.evHandler("state: handleVersion: ERROR: %s", err)
			return
		}

		var fromHash []byte
		if !latest.IsZero() {
			fromHash = latest[:]
		}

		s.send(from, wire.CmdGetBlocks, wire.GetBlocksPayload{FromBlockHash: fromHash})
		s.send(from, wire.CmdGetTransactions, nil)
		s.setConnected(false)

	case localHeight > payload.BlockHeight:
		if err := s.sendVersion(from); err != nil {
			s.evHandler("state: handleVersion: WARNING: %s", err)
		}

	default:
		if !s.knownPeers.Contains(from) {
			if err := s.sendVersion(from); err != nil {
				s.evHandler("state: handleVersion: WARNING: %s", err)
			}
		}
	}

	if s.role == RoleCentral {
		s.AddPeer(from)
	}

	if localHeight >= payload.BlockHeight {
		s.setConnected(true)
	}
}

// handleGetTransactions replies with the current mempool.
func (s *State) handleGetTransactions(from peer.Peer) {
	mempool, err := s.chain.Mempool()
	if err != nil {
		s.evHandler("state: handleGetTransactions: ERROR: %s", err)
		return
	}

	s.send(from, wire.CmdTransactions, wire.TransactionsPayload{Transactions: mempool})
}

// handleTransactions verifies and accepts gossiped transactions. A
// transaction with any unverifiable input is dropped; the others in the
// same message are still considered. The hub relays the original message
// to the other peers.
func (s *State) handleTransactions(from peer.Peer, msg wire.Message, payload wire.TransactionsPayload) {
	for _, tx := range payload.Transactions {
		verified := 0
		for _, in := range tx.Inputs {
			if s.verifyInput(in) {
				verified++
			}
		}
		if verified != len(tx.Inputs) {
			s.evHandler("state: handleTransactions: dropping tx[%s]: %d of %d inputs verified", tx.Hash(), verified, len(tx.Inputs))
			continue
		}

		if err := tx.ValidateShape(); err != nil {
			s.evHandler("state: handleTransactions: dropping tx[%s]: %s", tx.Hash(), err)
			continue
		}

		switch err := s.chain.AddTransaction(tx); {
		case errors.Is(err, sqlite.ErrDuplicateTransaction):
			s.evHandler("state: handleTransactions: tx[%s] already known", tx.Hash())
		case err != nil:
			s.evHandler("state: handleTransactions: ERROR: %s", err)
		default:
			s.evHandler("state: handleTransactions: tx[%s] accepted", tx.Hash())
		}
	}

	if s.role == RoleCentral {
		s.rebroadcast(msg, from)
	}
}

// handleGetBlocks replies with the requested span of the chain: the full
// chain in ascending order for an empty anchor, the store's descending
// traversal otherwise. An unknown anchor is logged and nothing is sent.
func (s *State) handleGetBlocks(from peer.Peer, payload wire.GetBlocksPayload) {
	var anchor *database.Hash
	if len(payload.FromBlockHash) > 0 {
		hash, err := database.BytesToHash(payload.FromBlockHash)
		if err != nil {
			s.evHandler("state: handleGetBlocks: dropping: %s", err)
			return
		}
		anchor = &hash
	}

	blocks, err := s.chain.Blocks(anchor)
	if err != nil {
		s.evHandler("state: handleGetBlocks: %s", err)
		return
	}

	s.send(from, wire.CmdBlocks, wire.BlocksPayload{Blocks: blocks})
}

// handleBlocks validates and ingests gossiped blocks. Only blocks
// extending the current tip are accepted. The hub relays the original
// message when at least one block was accepted.
func (s *State) handleBlocks(from peer.Peer, msg wire.Message, payload wire.BlocksPayload) {
	wasConnected := s.IsConnected()
	accepted := 0

	for _, block := range payload.Blocks {
		latest, err := s.chain.LatestBlockHash()
		if err != nil {
			s.evHandler("state: handleBlocks: ERROR: %s", err)
			return
		}

		if block.PrevHash != latest {
			s.evHandler("state: handleBlocks: skipping block[%s]: not on tip", block.Hash)
			continue
		}

		if err := block.Validate(latest, s.difficulty); err != nil {
			s.evHandler("state: handleBlocks: skipping block[%s]: %s", block.Hash, err)
			continue
		}

		if err := s.chain.AddBlock(block); err != nil {
			s.evHandler("state: handleBlocks: ERROR: %s", err)
			continue
		}

		accepted++
		s.evHandler("state: handleBlocks: block[%s] accepted", block.Hash)
	}

	s.setConnected(true)

	// While catching up, gossiped transactions may have arrived before
	// the blocks that fund them and been dropped. Now that the chain
	// advanced, pull the sender's mempool again; duplicates are ignored
	// at the store.
	if accepted > 0 && !wasConnected {
		s.send(from, wire.CmdGetTransactions, nil)
	}

	if s.role == RoleCentral && accepted > 0 {
		s.rebroadcast(msg, from)
	}
}

// =============================================================================

// verifyInput checks the spend authorization of one input: the signature
// over the outpoint hash must verify, and the public key must hash to the
// address held by the referenced unspent output.
func (s *State) verifyInput(in database.TxInput) bool {
	if !signature.Verify(in.PublicKey, in.PreviousOutput.Hash, in.Signature) {
		return false
	}

	utxo, exists, err := s.chain.UnspentOutput(in.PreviousOutput)
	if err != nil {
		s.evHandler("state: verifyInput: ERROR: %s", err)
		return false
	}
	if !exists {
		return false
	}

	return utxo.Address == database.NewAddress(in.PublicKey)
}

// sendVersion announces this node's version and height to the peer.
func (s *State) sendVersion(to peer.Peer) error {
	height, err := s.chain.Height()
	if err != nil {
		return err
	}

	return s.transport.Send(to, wire.CmdVersion, wire.VersionPayload{
		Version:     s.version,
		BlockHeight: int(height),
	})
}

// NetSendPing sends a PING to the peer and records the send time for the
// liveness bookkeeping.
func (s *State) NetSendPing(to peer.Peer) {
	s.knownPeers.RecordPingSent(to, time.Now())
	s.send(to, wire.CmdPing, nil)
}

// send delivers one message to one peer on a worker goroutine so callers
// return promptly. Send failures are logged and swallowed.
func (s *State) send(to peer.Peer, cmd wire.Command, payload any) {
	go func() {
		if err := s.transport.Send(to, cmd, payload); err != nil {
			s.evHandler("state: send: WARNING: %s: %s", to, err)
		}
	}()
}

// broadcast delivers one message to every known peer.
func (s *State) broadcast(cmd wire.Command, payload any) {
	for _, p := range s.RetrieveKnownPeers() {
		s.send(p, cmd, payload)
	}
}

// rebroadcast relays a received message, payload untouched, to every peer
// except the one it came from.
func (s *State) rebroadcast(msg wire.Message, except peer.Peer) {
	for _, p := range s.knownPeers.Copy(except) {
		s.evHandler("state: rebroadcast: %s to peer[%s]", msg.Command, p)
		s.send(p, msg.Command, msg.Payload)
	}
}

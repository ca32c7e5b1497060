// Package state is the core API for the blockchain node and implements
// all the business rules and processing.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/addrbook"
	"github.com/hubcoin/hubcoin/foundation/blockchain/chain"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/hubcoin/hubcoin/foundation/blockchain/transport"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
)

// Role determines how a node participates in the network. The central
// node is the well known hub that relays messages among peers; there is
// exactly one.
type Role string

// The set of roles a node can take.
const (
	RoleCentral Role = "central"
	RolePeer    Role = "peer"
)

// Defaults for the network. Tests rebind the central endpoint by passing
// a different configuration.
const (
	DefaultCentralHost  = "127.0.0.1"
	DefaultCentralPort  = 8333
	DefaultVersion      = 1
	DefaultPingInterval = 10 * time.Second
)

// =============================================================================

// EventHandler defines a function that is called when events occur in the
// processing of transactions and blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for mining and peer liveness.
type Worker interface {
	Shutdown()
	SignalStartMining()
}

// Transport interface represents the behavior required to be implemented
// by any package providing network support. The node holds one transport,
// chosen at construction.
type Transport interface {
	Listen(handler transport.Handler) error
	Send(to peer.Peer, cmd wire.Command, payload any) error
	Port() uint32
	Shutdown() error
}

// =============================================================================

// Config represents the configuration required to start the node.
type Config struct {
	Role         Role
	Version      int
	MinerAddress database.Address
	CentralHost  string
	CentralPort  uint32
	Difficulty   uint32
	PingInterval time.Duration
	Chain        *chain.Chain
	KnownPeers   *peer.PeerSet
	AddressBook  *addrbook.Book
	Transport    Transport
	EvHandler    EventHandler
}

// State manages the blockchain node.
type State struct {
	role         Role
	version      int
	minerAddress database.Address
	central      peer.Peer
	difficulty   uint32
	pingInterval time.Duration
	evHandler    EventHandler

	chain      *chain.Chain
	knownPeers *peer.PeerSet
	addrBook   *addrbook.Book
	transport  Transport

	mu        sync.Mutex
	connected bool

	Worker Worker
}

// New constructs a new node state for data and network management.
func New(cfg Config) (*State, error) {
	if cfg.Role != RoleCentral && cfg.Role != RolePeer {
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.Chain == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	version := cfg.Version
	if version == 0 {
		version = DefaultVersion
	}

	difficulty := cfg.Difficulty
	if difficulty == 0 {
		difficulty = database.DefaultDifficulty
	}

	pingInterval := cfg.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}

	centralHost := cfg.CentralHost
	if centralHost == "" {
		centralHost = DefaultCentralHost
	}
	centralPort := cfg.CentralPort
	if centralPort == 0 {
		centralPort = DefaultCentralPort
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	state := State{
		role:         cfg.Role,
		version:      version,
		minerAddress: cfg.MinerAddress,
		central:      peer.New(centralHost, centralPort),
		difficulty:   difficulty,
		pingInterval: pingInterval,
		evHandler:    ev,

		chain:      cfg.Chain,
		knownPeers: knownPeers,
		addrBook:   cfg.AddressBook,
		transport:  cfg.Transport,
	}

	// Seed the peer set from the address book so the network re-forms
	// after a restart.
	if state.addrBook != nil {
		peers, err := state.addrBook.Peers()
		if err != nil {
			return nil, fmt.Errorf("reading address book: %w", err)
		}
		for _, p := range peers {
			state.knownPeers.Add(p)
		}
	}

	// The Worker is not set here. The call to worker.Run will assign
	// itself and start everything up and running for the node.

	return &state, nil
}

// Connect starts the listener and, for a peer node, announces this node
// to the central hub.
func (s *State) Connect() error {
	if err := s.transport.Listen(s); err != nil {
		return err
	}

	s.evHandler("state: Connect: role[%s] listening on port[%d]", s.role, s.transport.Port())

	if s.role == RolePeer {
		s.knownPeers.Add(s.central)
		if err := s.sendVersion(s.central); err != nil {
			s.evHandler("state: Connect: WARNING: central unreachable: %s", err)
		}
	}

	return nil
}

// Disconnect stops the listener and halts the background tasks. In flight
// outbound sends may complete after Disconnect.
func (s *State) Disconnect() error {
	defer s.evHandler("state: Disconnect: completed")

	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return s.transport.Shutdown()
}

// =============================================================================

// Role returns the role the node was constructed with.
func (s *State) Role() Role {
	return s.role
}

// MinerAddress returns the address credited when this node mines.
func (s *State) MinerAddress() database.Address {
	return s.minerAddress
}

// PingInterval returns the liveness interval the node was configured with.
func (s *State) PingInterval() time.Duration {
	return s.pingInterval
}

// Port returns the transport's listening port. Valid after Connect when
// the node was configured with port zero.
func (s *State) Port() uint32 {
	return s.transport.Port()
}

// IsConnected reports whether the node considers itself synchronized with
// the network.
func (s *State) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// setConnected flips the synchronization flag.
func (s *State) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = connected
}

// RetrieveKnownPeers returns a list of the current known peers.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(peer.Peer{})
}

// KnownPeerSet returns the live peer set for liveness bookkeeping.
func (s *State) KnownPeerSet() *peer.PeerSet {
	return s.knownPeers
}

// AddPeer records a peer in the peer set and the address book.
func (s *State) AddPeer(p peer.Peer) {
	if !s.knownPeers.Add(p) {
		return
	}

	s.evHandler("state: AddPeer: peer[%s] added", p)

	if s.addrBook != nil {
		if err := s.addrBook.Add(p); err != nil {
			s.evHandler("state: AddPeer: WARNING: address book: %s", err)
		}
	}
}

// RemovePeer drops a peer from the peer set and the address book.
func (s *State) RemovePeer(p peer.Peer) {
	s.knownPeers.Remove(p)

	s.evHandler("state: RemovePeer: peer[%s] removed", p)

	if s.addrBook != nil {
		if err := s.addrBook.Remove(p); err != nil {
			s.evHandler("state: RemovePeer: WARNING: address book: %s", err)
		}
	}
}

// Package peer maintains the peer related information such as the set of
// known peers and their ping/pong liveness bookkeeping.
package peer

import (
	"fmt"
	"sync"
	"time"
)

// Peer represents information about a node in the network. Peers carry no
// cryptographic identity.
type Peer struct {
	Host string `json:"host"`
	Port uint32 `json:"port"`
}

// New constructs a new peer value.
func New(host string, port uint32) Peer {
	return Peer{
		Host: host,
		Port: port,
	}
}

// Match validates if the specified peer matches this peer.
func (p Peer) Match(other Peer) bool {
	return p == other
}

// String returns the host:port endpoint of the peer.
func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers and the timestamps of the liveness traffic exchanged with them.
// All access is guarded; the set is shared between the listener callback
// and the liveness task.
type PeerSet struct {
	mu       sync.RWMutex
	set      map[Peer]struct{}
	pingSent map[Peer]time.Time
	pongRecv map[Peer]time.Time
	lastSeen map[Peer]time.Time
}

// NewPeerSet constructs a new set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set:      make(map[Peer]struct{}),
		pingSent: make(map[Peer]time.Time),
		pongRecv: make(map[Peer]time.Time),
		lastSeen: make(map[Peer]time.Time),
	}
}

// Add adds a new peer to the set. Adding is idempotent; the return
// reports whether the peer was new.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		return false
	}

	ps.set[peer] = struct{}{}
	return true
}

// Remove removes a peer and its liveness bookkeeping from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
	delete(ps.pingSent, peer)
	delete(ps.pongRecv, peer)
	delete(ps.lastSeen, peer)
}

// Contains reports whether the peer is in the set.
func (ps *PeerSet) Contains(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[peer]
	return exists
}

// Copy returns a list of the known peers, excluding the specified peer.
func (ps *PeerSet) Copy(except Peer) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(except) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// Count returns the number of known peers.
func (ps *PeerSet) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// =============================================================================

// RecordPingSent stores the time the latest PING was sent to the peer.
func (ps *PeerSet) RecordPingSent(peer Peer, t time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.pingSent[peer] = t
}

// RecordPongReceived stores the time a PONG was received from the peer.
func (ps *PeerSet) RecordPongReceived(peer Peer, t time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.pongRecv[peer] = t
}

// MarkSeen records any sighting of traffic from the peer.
func (ps *PeerSet) MarkSeen(peer Peer, t time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.lastSeen[peer] = t
}

// LastPingSent returns the time of the latest PING sent to the peer.
func (ps *PeerSet) LastPingSent(peer Peer) (time.Time, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	t, exists := ps.pingSent[peer]
	return t, exists
}

// LastPongReceived returns the time of the latest PONG received from the
// peer.
func (ps *PeerSet) LastPongReceived(peer Peer) (time.Time, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	t, exists := ps.pongRecv[peer]
	return t, exists
}

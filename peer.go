package tgen

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Peer identifies one remote endpoint by name, address, and port. Peers
// are immutable after construction and are safe to share by reference
// across actions, pool entries, and forwarding-queue records.
type Peer struct {
	id      uuid.UUID
	Name    string
	Address string
	Port    uint16
}

// NewPeer builds a Peer, assigning it a correlation ID available through
// ID (it never appears on the wire or in String).
func NewPeer(name, address string, port uint16) *Peer {
	return &Peer{id: uuid.New(), Name: name, Address: address, Port: port}
}

// ID returns the peer's log-correlation identifier.
func (p *Peer) ID() uuid.UUID { return p.id }

// String renders "name@host:port" for logs, following the same
// standard "host, port" joining convention used for network addresses.
func (p *Peer) String() string {
	return fmt.Sprintf("%s@%s", p.Name, net.JoinHostPort(p.Address, strconv.Itoa(int(p.Port))))
}

// DialAddress returns the host:port pair suitable for net.Dial.
func (p *Peer) DialAddress() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(int(p.Port)))
}

// PeerFromAddr builds a Peer describing a connection's remote endpoint,
// used by a Server to attribute an accepted connection in logs before
// any handshake has revealed a name. The
// address string itself stands in for Name since an inbound connection
// carries no identity beyond where it came from.
func PeerFromAddr(addr net.Addr) *Peer {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return NewPeer(addr.String(), addr.String(), 0)
	}
	port, _ := strconv.Atoi(portStr)
	return NewPeer(addr.String(), host, uint16(port))
}

// Pool is an append-only, order-preserving multiset of peers supporting
// uniform-random draws and positional access.
type Pool struct {
	peers []*Peer
	rnd   *rand.Rand
}

// NewPool builds an empty peer pool.
func NewPool() *Pool {
	return &Pool{rnd: rand.New(rand.NewSource(rand.Int63()))}
}

// Add appends a peer to the pool. Duplicate peers (by pointer or by
// value) are permitted: the pool is a multiset, not a set.
func (p *Pool) Add(peer *Peer) {
	p.peers = append(p.peers, peer)
}

// Len returns the number of peers currently held.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.peers)
}

// At returns the peer at a zero-based position, or nil if out of range.
func (p *Pool) At(i int) *Peer {
	if p == nil || i < 0 || i >= len(p.peers) {
		return nil
	}
	return p.peers[i]
}

// Random draws a uniformly random peer, or nil if the pool is empty.
func (p *Pool) Random() *Peer {
	if p.Len() == 0 {
		return nil
	}
	return p.peers[p.rnd.Intn(len(p.peers))]
}

// Shuffled returns a new slice containing every peer in the pool in a
// uniform-random (Fisher-Yates) order, leaving the pool itself
// untouched. Used once by the driver to materialize chosenPeers.
func (p *Pool) Shuffled() []*Peer {
	n := p.Len()
	out := make([]*Peer, n)
	if p == nil {
		return out
	}
	copy(out, p.peers)
	for i := n - 1; i > 0; i-- {
		j := p.rnd.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FromSlice builds a Pool from a known, ordered peer list (used by the
// driver to hold the materialized chosenPeers).
func FromSlice(peers []*Peer) *Pool {
	pool := NewPool()
	pool.peers = append(pool.peers, peers...)
	return pool
}

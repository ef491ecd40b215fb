// Package simnet is an in-process mesh of nodes implementing the
// collaborator interfaces the network-id manager consumes: routing
// table, message transport with filtered waits, ticker, and node
// hooks. It backs the integration tests and the demo daemon; no real
// sockets are involved.
package simnet

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/zeebo/blake3"

	"github.com/misaakidis/fred-staging/pkg/netid"
)

// maxPending bounds each node's buffer of reply messages that
// arrived before their wait was registered.
const maxPending = 1024

// completedCap bounds the recently-completed uid set.
const completedCap = 4096

// Mesh is a set of nodes with symmetric adjacency.
type Mesh struct {
	mu     sync.Mutex
	nodes  map[peer.ID]*Node
	seed   int64
	maxHTL int16
}

// NewMesh creates an empty mesh. seed makes RNG draws reproducible
// (locations depend only on node names); maxHTL is every node's HTL
// ceiling.
func NewMesh(seed int64, maxHTL int16) *Mesh {
	return &Mesh{
		nodes:  make(map[peer.ID]*Node),
		seed:   seed,
		maxHTL: maxHTL,
	}
}

// NewNode adds a node named name. The node's ring location is
// derived from its id by hashing, so the same name always lands on
// the same spot.
func (m *Mesh) NewNode(name string) *Node {
	id := peer.ID(name)
	n := &Node{
		mesh:      m,
		id:        id,
		loc:       locationOf(id),
		maxHTL:    m.maxHTL,
		conns:     make(map[peer.ID]*Node),
		views:     make(map[peer.ID]*peerView),
		completed: make(map[uint64]bool),
		rng:       rand.New(rand.NewSource(m.seed ^ int64(locationOf(id)*float64(1<<62)))),
	}
	m.mu.Lock()
	m.nodes[id] = n
	m.mu.Unlock()
	return n
}

// Connect establishes the symmetric edge a—b.
func (m *Mesh) Connect(a, b *Node) {
	a.addConn(b)
	b.addConn(a)
}

// Disconnect removes the edge a—b and tells each side's manager.
func (m *Mesh) Disconnect(a, b *Node) {
	a.dropConn(b)
	b.dropConn(a)
}

// locationOf hashes a peer id onto the [0,1) ring.
func locationOf(id peer.ID) float64 {
	sum := blake3.Sum256([]byte(id))
	return float64(binary.BigEndian.Uint64(sum[:8])) / float64(1<<63) / 2
}

// ringDistance is the circular distance between two locations.
func ringDistance(a, b float64) float64 {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 0.5 {
		d = 1 - d
	}
	return d
}

// waiter is one registered filtered wait.
type waiter struct {
	f    netid.Filter
	ch   chan netid.Message
	gone chan struct{}
}

// Node is one simulated node. It implements netid.PeerTable,
// netid.MessageWaiter, netid.Ticker, and netid.NodeHooks, so a
// manager can be wired directly to it.
type Node struct {
	mesh   *Mesh
	id     peer.ID
	loc    float64
	maxHTL int16

	mu      sync.Mutex
	conns   map[peer.ID]*Node
	views   map[peer.ID]*peerView
	waiters []*waiter
	pending []netid.Message
	manager *netid.Manager

	completedMu   sync.Mutex
	completed     map[uint64]bool
	completedFIFO []uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// ID returns the node's identity.
func (n *Node) ID() peer.ID { return n.id }

// Location returns the node's ring location.
func (n *Node) Location() float64 { return n.loc }

// AttachManager builds a network-id manager wired to this node and
// remembers it for inbound dispatch. metrics may be nil.
func (n *Node) AttachManager(cfg netid.Config, metrics *netid.Metrics) *netid.Manager {
	mgr := netid.NewManager(cfg, n, n, n, n, metrics)
	n.mu.Lock()
	n.manager = mgr
	n.mu.Unlock()
	return mgr
}

// Manager returns the attached manager, nil if none.
func (n *Node) Manager() *netid.Manager {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager
}

func (n *Node) addConn(other *Node) {
	n.mu.Lock()
	n.conns[other.id] = other
	n.mu.Unlock()
}

func (n *Node) dropConn(other *Node) {
	n.mu.Lock()
	delete(n.conns, other.id)
	view := n.views[other.id]
	mgr := n.manager
	var failed []*waiter
	kept := n.waiters[:0]
	for _, w := range n.waiters {
		if w.f.Source != nil && w.f.Source.ID() == other.id {
			failed = append(failed, w)
		} else {
			kept = append(kept, w)
		}
	}
	n.waiters = kept
	n.mu.Unlock()

	for _, w := range failed {
		close(w.gone)
	}
	if mgr != nil && view != nil {
		mgr.OnPeerDisconnect(view)
	}
}

// viewOf returns the stable PeerNode this node uses for remote.
func (n *Node) viewOf(remote *Node) *peerView {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.views[remote.id]
	if !ok {
		v = &peerView{owner: n, remote: remote}
		n.views[remote.id] = v
	}
	return v
}

// receive routes an inbound message: announcements and requests go
// to the manager, replies go to a matching wait or the pending
// buffer.
func (n *Node) receive(from *Node, msg netid.Message) {
	view := n.viewOf(from)
	msg.Source = view

	switch msg.Type {
	case netid.MsgNetworkID:
		view.provided.Store(msg.NetworkID)
		if mgr := n.Manager(); mgr != nil {
			mgr.OnPeerProvidedNetworkID(view)
		}
	case netid.MsgStoreSecret:
		if mgr := n.Manager(); mgr != nil {
			mgr.OnStoreSecret(msg)
		}
	case netid.MsgSecretPing:
		if mgr := n.Manager(); mgr != nil {
			mgr.OnSecretPing(msg)
		}
	default:
		n.dispatchReply(msg)
	}
}

func (n *Node) dispatchReply(msg netid.Message) {
	n.mu.Lock()
	for i, w := range n.waiters {
		if w.f.Matches(msg) {
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			n.mu.Unlock()
			w.ch <- msg
			return
		}
	}
	if len(n.pending) >= maxPending {
		n.pending = n.pending[1:]
	}
	n.pending = append(n.pending, msg)
	n.mu.Unlock()
}

// WaitFor implements netid.MessageWaiter.
func (n *Node) WaitFor(ctx context.Context, f netid.Filter, timeout time.Duration) (netid.Message, error) {
	n.mu.Lock()
	for i, msg := range n.pending {
		if f.Matches(msg) {
			n.pending = append(n.pending[:i], n.pending[i+1:]...)
			n.mu.Unlock()
			return msg, nil
		}
	}
	w := &waiter{f: f, ch: make(chan netid.Message, 1), gone: make(chan struct{})}
	n.waiters = append(n.waiters, w)
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-w.ch:
		return msg, nil
	case <-w.gone:
		return netid.Message{}, netid.ErrSourceGone
	case <-timer.C:
		n.removeWaiter(w)
		return netid.Message{}, netid.ErrWaitTimeout
	case <-ctx.Done():
		n.removeWaiter(w)
		return netid.Message{}, ctx.Err()
	}
}

func (n *Node) removeWaiter(w *waiter) {
	n.mu.Lock()
	for i, x := range n.waiters {
		if x == w {
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
}

// CloserPeer implements netid.PeerTable: greedy circular-distance
// routing over the connected set.
func (n *Node) CloserPeer(source netid.PeerNode, exclude map[peer.ID]bool, target float64, htl int16) netid.PeerNode {
	n.mu.Lock()
	var best *Node
	bestDist := 2.0
	for id, c := range n.conns {
		if source != nil && source.ID() == id {
			continue
		}
		if exclude[id] {
			continue
		}
		if d := ringDistance(c.loc, target); d < bestDist {
			bestDist = d
			best = c
		}
	}
	n.mu.Unlock()

	if best == nil {
		return nil
	}
	return n.viewOf(best)
}

// RandomPeer implements netid.PeerTable.
func (n *Node) RandomPeer(exclude ...netid.PeerNode) netid.PeerNode {
	skip := make(map[peer.ID]bool, len(exclude))
	for _, e := range exclude {
		if e != nil {
			skip[e.ID()] = true
		}
	}

	n.mu.Lock()
	candidates := make([]*Node, 0, len(n.conns))
	for id, c := range n.conns {
		if !skip[id] {
			candidates = append(candidates, c)
		}
	}
	n.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}
	n.rngMu.Lock()
	pick := candidates[n.rng.Intn(len(candidates))]
	n.rngMu.Unlock()
	return n.viewOf(pick)
}

// AllConnectedPeers implements netid.PeerTable.
func (n *Node) AllConnectedPeers() []netid.PeerNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]netid.PeerNode, 0, len(n.conns))
	for id, c := range n.conns {
		v, ok := n.views[id]
		if !ok {
			v = &peerView{owner: n, remote: c}
			n.views[id] = v
		}
		out = append(out, v)
	}
	return out
}

// CountConnectedPeers implements netid.PeerTable.
func (n *Node) CountConnectedPeers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// QueueTimedJob implements netid.Ticker.
func (n *Node) QueueTimedJob(job func(), delay time.Duration) {
	time.AfterFunc(delay, job)
}

// RecentlyCompleted implements netid.NodeHooks.
func (n *Node) RecentlyCompleted(uid uint64) bool {
	n.completedMu.Lock()
	defer n.completedMu.Unlock()
	return n.completed[uid]
}

// Completed implements netid.NodeHooks.
func (n *Node) Completed(uid uint64) {
	n.completedMu.Lock()
	defer n.completedMu.Unlock()
	if n.completed[uid] {
		return
	}
	if len(n.completedFIFO) >= completedCap {
		oldest := n.completedFIFO[0]
		n.completedFIFO = n.completedFIFO[1:]
		delete(n.completed, oldest)
	}
	n.completed[uid] = true
	n.completedFIFO = append(n.completedFIFO, uid)
}

// MaxHTL implements netid.NodeHooks.
func (n *Node) MaxHTL() int16 { return n.maxHTL }

// RandUint64 implements netid.NodeHooks.
func (n *Node) RandUint64() uint64 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Uint64()
}

// RandInt31 implements netid.NodeHooks.
func (n *Node) RandInt31() int32 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Int31()
}

// RandFloat64 implements netid.NodeHooks.
func (n *Node) RandFloat64() float64 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Float64()
}

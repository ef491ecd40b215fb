package netid

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerNode is the node's handle on a directly connected neighbour.
// The routing table owns the peer; the manager holds weak relations
// keyed by ID().
type PeerNode interface {
	// ID is the stable identity key for this peer.
	ID() peer.ID

	// Location is the peer's position on the [0,1) routing ring.
	Location() float64

	IsConnected() bool

	// IsRoutable reports whether the peer is currently a valid probe
	// target (connected and not in a transient handshake state).
	IsRoutable() bool

	// DecrementHTL applies this link's hops-to-live policy to htl and
	// returns the value the next hop should carry.
	DecrementHTL(htl int16) int16

	// SendAsync queues msg for delivery best-effort.
	SendAsync(msg Message) error

	// SendSync delivers msg and blocks until the transport has
	// accepted it or ctx expires.
	SendSync(ctx context.Context, msg Message) error

	// ProvidedNetworkID is the id this peer last announced for
	// itself, or 0 if it never announced one.
	ProvidedNetworkID() int32

	// SetAssignedNetworkID records the id the local node assigned to
	// the group this peer belongs to.
	SetAssignedNetworkID(id int32)
}

// PeerTable is the routing-table oracle the manager routes and
// enumerates through.
type PeerTable interface {
	// CloserPeer returns the connected peer closest to target on the
	// ring, excluding source (may be nil) and every peer in exclude.
	// Returns nil when no candidate remains.
	CloserPeer(source PeerNode, exclude map[peer.ID]bool, target float64, htl int16) PeerNode

	// RandomPeer returns a uniformly random connected peer not in
	// exclude, or nil.
	RandomPeer(exclude ...PeerNode) PeerNode

	AllConnectedPeers() []PeerNode
	CountConnectedPeers() int
}

// MessageWaiter blocks until a message matching f arrives, the
// timeout expires (ErrWaitTimeout), or the filtered source
// disconnects (ErrSourceGone).
type MessageWaiter interface {
	WaitFor(ctx context.Context, f Filter, timeout time.Duration) (Message, error)
}

// Ticker schedules one-shot jobs, owned by the node.
type Ticker interface {
	QueueTimedJob(job func(), delay time.Duration)
}

// NodeHooks exposes the node facilities the manager consumes: the
// shared recently-completed dedupe set, the HTL ceiling, and RNG.
// RNG methods must be safe for concurrent use.
type NodeHooks interface {
	RecentlyCompleted(uid uint64) bool
	Completed(uid uint64)
	MaxHTL() int16

	RandUint64() uint64
	RandInt31() int32
	RandFloat64() float64
}

package netid

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerNetworkGroup is one cluster of well-interconnected neighbours
// carrying a consensus network id. Groups are immutable in
// membership after a reckon; only the id, forbidden set, and
// assignment time change, under the group-local lock.
type PeerNetworkGroup struct {
	mu         sync.Mutex
	members    []PeerNode
	networkID  int32
	ourGroup   bool
	forbidden  map[int32]bool
	lastAssign time.Time
}

func newPeerNetworkGroup(members []PeerNode, forbidden map[int32]bool) *PeerNetworkGroup {
	f := make(map[int32]bool, len(forbidden))
	for id := range forbidden {
		f[id] = true
	}
	return &PeerNetworkGroup{members: members, forbidden: f}
}

// Members returns the group's membership. The slice is shared; do
// not mutate.
func (g *PeerNetworkGroup) Members() []PeerNode {
	return g.members
}

// NetworkID returns the group's current id, NoNetworkID before the
// first assignment.
func (g *PeerNetworkGroup) NetworkID() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.networkID
}

// OurGroup reports whether the local node declared itself in this
// group.
func (g *PeerNetworkGroup) OurGroup() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ourGroup
}

func (g *PeerNetworkGroup) setOurGroup() {
	g.mu.Lock()
	g.ourGroup = true
	g.mu.Unlock()
}

func (g *PeerNetworkGroup) contains(id peer.ID) bool {
	for _, m := range g.members {
		if m.ID() == id {
			return true
		}
	}
	return false
}

// setForbidden replaces the group's forbidden-id set with a copy of
// taken.
func (g *PeerNetworkGroup) setForbidden(taken map[int32]bool) {
	f := make(map[int32]bool, len(taken))
	for id := range taken {
		f[id] = true
	}
	g.mu.Lock()
	g.forbidden = f
	g.mu.Unlock()
}

func (g *PeerNetworkGroup) isForbidden(id int32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forbidden[id]
}

// recentlyAssigned reports whether the group's id was assigned
// within window.
func (g *PeerNetworkGroup) recentlyAssigned(window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.lastAssign.IsZero() && time.Since(g.lastAssign) < window
}

// consensus picks the plurality of non-forbidden, non-zero ids the
// members have announced for themselves. With one or no distinct
// option it returns the last id seen, falling back to the group's
// own current id when nobody advertised anything.
func (g *PeerNetworkGroup) consensus() int32 {
	g.mu.Lock()
	forbidden := g.forbidden
	current := g.networkID
	g.mu.Unlock()

	counts := make(map[int32]int)
	var last int32
	for _, m := range g.members {
		id := m.ProvidedNetworkID()
		if id == NoNetworkID || forbidden[id] {
			continue
		}
		counts[id]++
		last = id
	}

	if len(counts) == 0 {
		return current
	}
	if len(counts) == 1 {
		return last
	}

	best, bestCount := last, 0
	for id, n := range counts {
		if n > bestCount {
			best, bestCount = id, n
		}
	}
	return best
}

// assign sets the group's id, stamps the assignment time, rewrites
// each member's assigned id, and announces the id to every member
// best-effort.
func (g *PeerNetworkGroup) assign(id int32) {
	g.mu.Lock()
	g.networkID = id
	g.lastAssign = time.Now()
	g.mu.Unlock()

	msg := Message{Type: MsgNetworkID, NetworkID: id}
	for _, m := range g.members {
		m.SetAssignedNetworkID(id)
		if err := m.SendAsync(msg); err != nil {
			slog.Debug("netid: id announce failed", "peer", m.ID(), "error", err)
		}
	}
}

// groupRegistry holds the ordered group list, highest priority
// first. Replacement is a single pointer swap; readers always see a
// complete list.
type groupRegistry struct {
	groups atomic.Pointer[[]*PeerNetworkGroup]
}

func newGroupRegistry() *groupRegistry {
	r := &groupRegistry{}
	empty := make([]*PeerNetworkGroup, 0)
	r.groups.Store(&empty)
	return r
}

// snapshot returns the current ordered group list.
func (r *groupRegistry) snapshot() []*PeerNetworkGroup {
	return *r.groups.Load()
}

// replace swaps in a new ordered list.
func (r *groupRegistry) replace(groups []*PeerNetworkGroup) {
	r.groups.Store(&groups)
}

// groupOf returns the first group containing p, or nil.
func (r *groupRegistry) groupOf(p peer.ID) *PeerNetworkGroup {
	for _, g := range r.snapshot() {
		if g.contains(p) {
			return g
		}
	}
	return nil
}

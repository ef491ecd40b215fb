package netid

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Reckon rebuilds the group registry from the current sample matrix.
// Normally invoked by the prober every few volleys; exported so a
// node can force a recompute. A crash inside reckoning is logged and
// leaves the previous registry in force.
func (m *Manager) Reckon() {
	m.dontStartPlease.Lock()
	m.inTransition.Store(true)
	defer func() {
		m.inTransition.Store(false)
		m.dontStartPlease.Unlock()
		if r := recover(); r != nil {
			slog.Error("reckoner: panic, keeping previous registry", "panic", r)
		}
	}()

	all := m.peers.AllConnectedPeers()
	if len(all) == 0 {
		return
	}
	if m.metrics != nil {
		m.metrics.ReckonTotal.Inc()
	}

	todo := make([]PeerNode, len(all))
	copy(todo, all)
	taken := make(map[int32]bool)
	var groups []*PeerNetworkGroup

	for len(todo) > 0 {
		seed, idx := m.mostConnected(todo, all)
		todo = append(todo[:idx], todo[idx+1:]...)

		var members []PeerNode
		if len(todo) == 0 {
			members = []PeerNode{seed}
		} else {
			members, todo = m.extractCluster(seed, todo)
			members = append(members, seed)
		}

		g := newPeerNetworkGroup(members, taken)
		id := m.chooseID(g.consensus(), taken)
		g.assign(id)
		m.metrics.reassign("reckon")

		groups = append(groups, g)
		taken[id] = true
	}

	m.registry.replace(groups)
	our := groups[0]
	our.setOurGroup()
	m.ourNetworkID.Store(our.NetworkID())

	if m.metrics != nil {
		m.metrics.GroupCount.Set(float64(len(groups)))
		m.metrics.OurNetworkID.Set(float64(our.NetworkID()))
	}
	slog.Info("reckoner: groups rebuilt",
		"groups", len(groups),
		"peers", len(all),
		"ourID", our.NetworkID())
}

// mostConnected returns the peer in todo with the highest
// connectedness over all, and its index in todo.
func (m *Manager) mostConnected(todo, all []PeerNode) (PeerNode, int) {
	bestIdx := 0
	bestScore := -1.0
	for i, p := range todo {
		if s := m.connectedness(p, all); s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	return todo[bestIdx], bestIdx
}

// connectedness scores p against the whole population as the product
// of its per-peer success rates, floored at 1/|all| so a single
// unmeasured pair does not annihilate the score.
func (m *Manager) connectedness(p PeerNode, all []PeerNode) float64 {
	floor := 1.0 / float64(len(all))
	score := 1.0
	for _, q := range all {
		avg := m.matrix.average(p.ID(), q.ID())
		if avg < floor {
			avg = floor
		}
		score *= avg
	}
	return score
}

// setwiseAverage is the mean success rate of p probed through each
// member of set.
func (m *Manager) setwiseAverage(p peer.ID, set []PeerNode) float64 {
	if len(set) == 0 {
		return 0
	}
	var sum float64
	for _, q := range set {
		sum += m.matrix.average(p, q.ID())
	}
	return sum / float64(len(set))
}

// extractCluster pulls seed's cluster out of others and returns the
// pulled members plus the remaining others. The seed itself is not
// included in the returned members.
func (m *Manager) extractCluster(seed PeerNode, others []PeerNode) (members, rest []PeerNode) {
	goodness := m.setwiseAverage(seed.ID(), others)

	// Fall open: when overall connectivity is this poor the peers are
	// unmeasured or the protocol is disabled; they all coalesce.
	if goodness < fallOpenMark {
		return others, nil
	}

	threshold := goodness * linearGraceFactor
	cluster := []PeerNode{seed}
	rest = others

	for len(rest) > 0 {
		bestIdx := -1
		bestScore := -1.0
		for i, x := range rest {
			if s := m.setwiseAverage(x.ID(), cluster); s > bestScore {
				bestScore = s
				bestIdx = i
			}
		}
		if bestScore < threshold {
			break
		}
		cluster = append(cluster, rest[bestIdx])
		rest = append(rest[:bestIdx], rest[bestIdx+1:]...)
	}

	members = cluster[1:]

	// Combine the dregs: a seed that pulled nobody adopts a lone
	// leftover peer when the pair is decently reachable both ways.
	if len(members) == 0 && len(rest) == 1 {
		x := rest[0]
		two := (m.matrix.average(x.ID(), seed.ID()) + m.matrix.average(seed.ID(), x.ID())) / 2
		if two > dregsMergeMark {
			members = append(members, x)
			rest = nil
		}
	}

	return members, rest
}

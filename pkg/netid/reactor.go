package netid

import "log/slog"

// OnPeerProvidedNetworkID reacts to p announcing a new id for
// itself. The ordered group walk re-labels the announcing peer's
// group when consensus moved, then rewrites forbidden sets down the
// priority order, reassigning any lower group whose id became
// taken. During a reckon the event is dropped; the next round
// absorbs it.
func (m *Manager) OnPeerProvidedNetworkID(p PeerNode) {
	if m.inTransition.Load() {
		return
	}

	m.dontStartPlease.Lock()
	defer m.dontStartPlease.Unlock()

	groups := m.registry.snapshot()
	nowTaken := make(map[int32]bool)
	seen := false

	for _, g := range groups {
		switch {
		case !seen && g.contains(p.ID()):
			seen = true
			// Stability: our own group keeps its id no matter what
			// the members announce.
			if !g.OurGroup() {
				id := g.consensus()
				if id == g.NetworkID() {
					return
				}
				if g.recentlyAssigned(betweenPeers) {
					return
				}
				id = m.chooseID(id, nowTaken)
				g.assign(id)
				m.metrics.reassign("reactor")
				slog.Info("reactor: group re-labelled",
					"peer", p.ID(), "id", id)
			}

		case seen:
			g.setForbidden(nowTaken)
			if nowTaken[g.NetworkID()] {
				id := m.chooseID(g.consensus(), nowTaken)
				g.assign(id)
				m.metrics.reassign("reactor")
				slog.Info("reactor: id collision resolved",
					"id", id)
			}
		}
		nowTaken[g.NetworkID()] = true
	}
}

package netid

import (
	"context"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// OnStoreSecret handles an inbound StoreSecret from a direct
// neighbour: lodge the pair, ack best-effort. Always consumes the
// message.
func (m *Manager) OnStoreSecret(msg Message) bool {
	m.secrets.put(msg.Source, msg.UID, msg.Secret)
	if err := msg.Source.SendAsync(Message{Type: MsgAccepted, UID: msg.UID}); err != nil {
		slog.Debug("netid: accepted reply failed",
			"peer", msg.Source.ID(), "uid", msg.UID, "error", err)
	}
	return true
}

// OnSecretPing handles an inbound SecretPing. The real work runs on
// a worker goroutine bounded by the handler semaphore; the transport
// thread returns immediately. Always consumes the message.
func (m *Manager) OnSecretPing(msg Message) bool {
	if !m.handlerSlots.TryAcquire(1) {
		// Saturated; treat like a loop so the upstream hop moves on.
		m.rejectLoop(msg.Source, msg.UID)
		m.metrics.pingOutcome("saturated")
		return true
	}
	go func() {
		defer m.handlerSlots.Release(1)
		m.handleSecretPing(msg)
	}()
	return true
}

// handleSecretPing is the server side of the probe protocol: answer
// if the lodged secret is ours, otherwise forward along the routing
// gradient, random-prefix first.
func (m *Manager) handleSecretPing(msg Message) {
	source := msg.Source
	uid := msg.UID

	if m.disablePings.Load() || m.node.RecentlyCompleted(uid) {
		m.rejectLoop(source, uid)
		m.metrics.pingOutcome("rejected")
		return
	}

	if entry := m.secrets.byUid(uid); entry != nil {
		// The ping reached its intended recipient. A path still in
		// the random-prefix region is too short to count.
		if msg.HTL > msg.DawnHTL {
			m.rejectLoop(source, uid)
			m.metrics.pingOutcome("too_short")
			return
		}
		pong := Message{
			Type:    MsgSecretPong,
			UID:     uid,
			Counter: msg.Counter + 1,
			Secret:  entry.Secret,
		}
		if err := source.SendAsync(pong); err != nil {
			slog.Debug("netid: pong reply failed",
				"peer", source.ID(), "uid", uid, "error", err)
		}
		// Deliberately not marked completed: another path may still
		// arrive and be answered.
		m.metrics.pingOutcome("pong")
		return
	}

	m.node.Completed(uid)
	m.forwardSecretPing(msg)
}

// forwardSecretPing walks candidate next hops until one of them
// produces a pong, every candidate rejects, or the HTL runs out.
// Emits at most one upstream reply.
func (m *Manager) forwardSecretPing(msg Message) {
	source := msg.Source
	uid := msg.UID
	htl := msg.HTL
	routedTo := make(map[peer.ID]bool)

	for {
		var next PeerNode
		if htl > msg.DawnHTL && len(routedTo) == 0 {
			// Random-prefix step: one uniformly random hop away from
			// the deterministic gradient.
			next = m.peers.RandomPeer(source)
		} else {
			next = m.peers.CloserPeer(source, routedTo, msg.Target, htl)
		}
		if next == nil {
			m.rejectLoop(source, uid)
			m.metrics.pingOutcome("no_route")
			return
		}

		htl = next.DecrementHTL(htl)
		if htl <= 0 {
			m.rejectLoop(source, uid)
			m.metrics.pingOutcome("htl_exhausted")
			return
		}

		if !source.IsConnected() {
			// Nobody left to answer to.
			slog.Debug("netid: ping source gone mid-forward", "uid", uid)
			m.metrics.pingOutcome("source_gone")
			return
		}

		fwd := Message{
			Type:    MsgSecretPing,
			UID:     uid,
			Target:  msg.Target,
			HTL:     htl,
			DawnHTL: msg.DawnHTL,
			Counter: msg.Counter + 1,
		}
		if err := next.SendAsync(fwd); err != nil {
			routedTo[next.ID()] = true
			continue
		}
		routedTo[next.ID()] = true

		resp, err := m.waiter.WaitFor(context.Background(), Filter{
			Source: next,
			UID:    uid,
			Types:  []MsgType{MsgSecretPong, MsgRejectedLoop},
		}, secretPongTimeout)
		if err != nil {
			slog.Error("netid: wait for pong failed",
				"uid", uid, "next", next.ID(), "error", err)
			m.metrics.pingOutcome("timeout")
			return
		}

		if resp.Type == MsgSecretPong {
			counter := msg.Counter
			if resp.Counter > counter {
				counter = resp.Counter
			}
			relay := Message{
				Type:    MsgSecretPong,
				UID:     uid,
				Counter: counter,
				Secret:  resp.Secret,
			}
			if err := source.SendAsync(relay); err != nil {
				slog.Debug("netid: pong relay failed",
					"peer", source.ID(), "uid", uid, "error", err)
			}
			m.metrics.pingOutcome("forwarded")
			return
		}

		// RejectedLoop: try the next candidate.
	}
}

// rejectLoop sends the normal-outcome rejection upstream,
// best-effort.
func (m *Manager) rejectLoop(to PeerNode, uid uint64) {
	if err := to.SendAsync(Message{Type: MsgRejectedLoop, UID: uid}); err != nil {
		slog.Debug("netid: reject reply failed",
			"peer", to.ID(), "uid", uid, "error", err)
	}
}

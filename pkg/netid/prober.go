package netid

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// prober drains a work queue of peers to measure, one volley at a
// time. A volley probes a single target through every connected
// intermediary in routing order. Scheduling is driven by the node's
// ticker; exactly one tick may be processing at any moment.
type prober struct {
	m *Manager

	mu         sync.Mutex
	queue      []PeerNode
	queued     map[peer.ID]bool
	processing PeerNode
	seeded     bool
	stopped    bool

	startupChecks int
	volleysToGo   int

	limiter *rate.Limiter

	secretPingSuccesses     atomic.Uint64
	totalSecretPingAttempts atomic.Uint64
}

func newProber(m *Manager) *prober {
	return &prober{
		m:           m,
		queued:      make(map[peer.ID]bool),
		volleysToGo: pingVolleysPerRecompute,
		limiter:     rate.NewLimiter(rate.Every(probePoliteness), 1),
	}
}

// start schedules the first tick after the startup delay.
func (p *prober) start() {
	p.m.ticker.QueueTimedJob(p.tick, startupDelay)
}

func (p *prober) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// counters reports lifetime probe attempts and successes.
func (p *prober) counters() (attempts, successes uint64) {
	return p.totalSecretPingAttempts.Load(), p.secretPingSuccesses.Load()
}

// tick is one scheduled pass: pop a target, run its volley, count it
// toward the next reckon, and reschedule.
func (p *prober) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.processing != nil {
		slog.Error("prober: tick skipped", "error", ErrProberBusy,
			"processing", p.processing.ID())
		p.mu.Unlock()
		return
	}
	if !p.seeded {
		p.seeded = true
		p.startupChecks = p.m.peers.CountConnectedPeers() * minPingsForStartup
	}
	target := p.popLocked()
	if target != nil {
		p.processing = target
	}
	p.mu.Unlock()

	if target != nil {
		p.volley(target)

		p.mu.Lock()
		p.processing = nil
		if p.startupChecks > 0 {
			p.startupChecks--
		} else {
			p.volleysToGo--
		}
		reckon := p.startupChecks == 0 && p.volleysToGo <= 0
		if reckon {
			p.volleysToGo = pingVolleysPerRecompute
		}
		p.mu.Unlock()

		if reckon {
			p.m.Reckon()
		}
	}

	p.reschedule()
}

// popLocked removes the next routable target from the queue. Caller
// holds p.mu.
func (p *prober) popLocked() PeerNode {
	for len(p.queue) > 0 {
		t := p.queue[0]
		p.queue = p.queue[1:]
		delete(p.queued, t.ID())
		if t.IsRoutable() {
			return t
		}
	}
	return nil
}

// reschedule refills the queue when drained and queues the next
// tick: the long steady-state period once a full pass is done, the
// short one while work remains or the startup drain is running.
func (p *prober) reschedule() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	delay := betweenPeers
	if len(p.queue) == 0 {
		for _, q := range p.m.peers.AllConnectedPeers() {
			if !p.queued[q.ID()] {
				p.queue = append(p.queue, q)
				p.queued[q.ID()] = true
			}
		}
		if p.startupChecks == 0 {
			delay = longPeriod
		}
	}
	p.mu.Unlock()

	p.m.ticker.QueueTimedJob(p.tick, delay)
}

// volley probes target through every connected peer in an
// independent routing-ordered traversal: repeated CloserPeer calls
// with an accumulating exclusion set against one fixed random
// location.
func (p *prober) volley(target PeerNode) {
	volleyID := uuid.New()
	p.m.matrix.beginProbe(target.ID())

	exclusion := make(map[peer.ID]bool)
	loc := p.m.node.RandFloat64()
	probes := 0

	for target.IsRoutable() && !p.m.matrix.raced() {
		next := p.m.peers.CloserPeer(nil, exclusion, loc, p.m.node.MaxHTL())
		if next == nil {
			break
		}
		exclusion[next.ID()] = true

		p.blockingUpdatePingRecord(target, next)
		probes++

		// Politeness: space consecutive probes out.
		_ = p.limiter.Wait(context.Background())
	}

	if raced := p.m.matrix.endProbe(); raced {
		slog.Info("prober: volley discarded, target forgotten mid-run",
			"volley", volleyID, "target", target.ID())
		return
	}
	slog.Debug("prober: volley done",
		"volley", volleyID, "target", target.ID(), "probes", probes)
}

// blockingUpdatePingRecord runs one full probe transaction against
// (target, via next) and folds the outcome into the sample matrix.
// Every failure path produces exactly one failure sample.
func (p *prober) blockingUpdatePingRecord(target, next PeerNode) {
	uid := p.m.node.RandUint64()
	secret := p.m.node.RandUint64()

	rec := p.m.matrix.get(target.ID(), next.ID())
	htl := rec.NextHTL()
	dawn := rec.NextDawnHTL(htl)

	p.totalSecretPingAttempts.Add(1)

	ok, counter := p.probeOnce(target, next, uid, secret, htl, dawn)
	if ok {
		rec.Success(counter, htl, dawn)
		p.secretPingSuccesses.Add(1)
		p.m.metrics.probeResult("success")
	} else {
		rec.Failure(counter, htl, dawn)
		p.m.metrics.probeResult("failure")
	}
}

// probeOnce is the client side of the protocol: StoreSecret at the
// target, wait for the ack, SecretPing via the intermediary, wait
// for the verdict. Success iff a pong comes back carrying our
// secret.
func (p *prober) probeOnce(target, next PeerNode, uid, secret uint64, htl, dawn int16) (bool, int32) {
	storeCtx, cancel := context.WithTimeout(context.Background(), acceptedTimeout)
	err := target.SendSync(storeCtx, Message{
		Type:   MsgStoreSecret,
		UID:    uid,
		Secret: secret,
	})
	cancel()
	if err != nil {
		slog.Debug("prober: store secret failed",
			"target", target.ID(), "uid", uid, "error", err)
		return false, 0
	}

	if _, err := p.m.waiter.WaitFor(context.Background(), Filter{
		Source: target,
		UID:    uid,
		Types:  []MsgType{MsgAccepted},
	}, acceptedTimeout); err != nil {
		slog.Error("prober: no ack for stored secret",
			"target", target.ID(), "uid", uid, "error", err)
		return false, 0
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), secretPongTimeout)
	err = next.SendSync(pingCtx, Message{
		Type:    MsgSecretPing,
		UID:     uid,
		Target:  target.Location(),
		HTL:     htl,
		DawnHTL: dawn,
		Counter: 0,
	})
	cancel()
	if err != nil {
		slog.Debug("prober: ping send failed",
			"via", next.ID(), "uid", uid, "error", err)
		return false, 0
	}

	resp, err := p.m.waiter.WaitFor(context.Background(), Filter{
		Source: next,
		UID:    uid,
		Types:  []MsgType{MsgSecretPong, MsgRejectedLoop},
	}, secretPongTimeout)
	if err != nil {
		slog.Error("prober: no verdict for ping",
			"via", next.ID(), "uid", uid, "error", err)
		return false, 0
	}

	if resp.Type == MsgSecretPong && resp.Secret == secret {
		return true, resp.Counter
	}
	return false, resp.Counter
}

package netid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// fakePeer is a scriptable PeerNode.
type fakePeer struct {
	id       peer.ID
	loc      float64
	maxHTL   int16
	provided int32

	mu        sync.Mutex
	connected bool
	routable  bool
	assigned  int32
	sent      []Message
	sendErr   error
}

func newFakePeer(name string, loc float64) *fakePeer {
	return &fakePeer{
		id:        peer.ID(name),
		loc:       loc,
		maxHTL:    10,
		connected: true,
		routable:  true,
	}
}

func (p *fakePeer) ID() peer.ID       { return p.id }
func (p *fakePeer) Location() float64 { return p.loc }

func (p *fakePeer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeer) IsRoutable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routable
}

func (p *fakePeer) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.routable = v
	p.mu.Unlock()
}

func (p *fakePeer) DecrementHTL(htl int16) int16 {
	if htl > p.maxHTL {
		htl = p.maxHTL
	}
	return htl - 1
}

func (p *fakePeer) SendAsync(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePeer) SendSync(_ context.Context, msg Message) error {
	return p.SendAsync(msg)
}

func (p *fakePeer) ProvidedNetworkID() int32 { return p.provided }

func (p *fakePeer) SetAssignedNetworkID(id int32) {
	p.mu.Lock()
	p.assigned = id
	p.mu.Unlock()
}

func (p *fakePeer) assignedID() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assigned
}

func (p *fakePeer) sentOfType(t MsgType) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// fakeTable is a PeerTable over a fixed slice of fakePeers.
// CloserPeer is deterministic: nearest ring distance wins.
type fakeTable struct {
	mu       sync.Mutex
	peers    []*fakePeer
	onCloser func() // test hook, fired on every CloserPeer call
}

func (t *fakeTable) CloserPeer(source PeerNode, exclude map[peer.ID]bool, target float64, _ int16) PeerNode {
	t.mu.Lock()
	hook := t.onCloser
	t.mu.Unlock()
	if hook != nil {
		hook()
	}

	var best *fakePeer
	bestDist := 2.0
	for _, p := range t.peers {
		if !p.IsConnected() {
			continue
		}
		if source != nil && source.ID() == p.id {
			continue
		}
		if exclude[p.id] {
			continue
		}
		d := target - p.loc
		if d < 0 {
			d = -d
		}
		if d > 0.5 {
			d = 1 - d
		}
		if d < bestDist {
			bestDist = d
			best = p
		}
	}
	if best == nil {
		return nil
	}
	return best
}

func (t *fakeTable) RandomPeer(exclude ...PeerNode) PeerNode {
	skip := make(map[peer.ID]bool)
	for _, e := range exclude {
		if e != nil {
			skip[e.ID()] = true
		}
	}
	for _, p := range t.peers {
		if p.IsConnected() && !skip[p.id] {
			return p
		}
	}
	return nil
}

func (t *fakeTable) AllConnectedPeers() []PeerNode {
	var out []PeerNode
	for _, p := range t.peers {
		if p.IsConnected() {
			out = append(out, p)
		}
	}
	return out
}

func (t *fakeTable) CountConnectedPeers() int {
	return len(t.AllConnectedPeers())
}

// scriptWaiter answers WaitFor calls from a scripted responder.
type scriptWaiter struct {
	mu      sync.Mutex
	respond func(f Filter) (Message, error)
	calls   int
}

func (w *scriptWaiter) WaitFor(_ context.Context, f Filter, _ time.Duration) (Message, error) {
	w.mu.Lock()
	w.calls++
	fn := w.respond
	w.mu.Unlock()
	if fn == nil {
		return Message{}, ErrWaitTimeout
	}
	return fn(f)
}

// manualTicker records scheduled jobs; tests fire them explicitly.
type manualTicker struct {
	mu   sync.Mutex
	jobs []func()
	last time.Duration
}

func (t *manualTicker) QueueTimedJob(job func(), delay time.Duration) {
	t.mu.Lock()
	t.jobs = append(t.jobs, job)
	t.last = delay
	t.mu.Unlock()
}

// fireNext runs the oldest queued job, returning false if none.
func (t *manualTicker) fireNext() bool {
	t.mu.Lock()
	if len(t.jobs) == 0 {
		t.mu.Unlock()
		return false
	}
	job := t.jobs[0]
	t.jobs = t.jobs[1:]
	t.mu.Unlock()
	job()
	return true
}

func (t *manualTicker) lastDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *manualTicker) pendingJobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// fakeHooks implements NodeHooks with a seeded RNG.
type fakeHooks struct {
	mu        sync.Mutex
	completed map[uint64]bool
	rng       *rand.Rand
	maxHTL    int16
}

func newFakeHooks(seed int64) *fakeHooks {
	return &fakeHooks{
		completed: make(map[uint64]bool),
		rng:       rand.New(rand.NewSource(seed)),
		maxHTL:    10,
	}
}

func (h *fakeHooks) RecentlyCompleted(uid uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed[uid]
}

func (h *fakeHooks) Completed(uid uint64) {
	h.mu.Lock()
	h.completed[uid] = true
	h.mu.Unlock()
}

func (h *fakeHooks) MaxHTL() int16 { return h.maxHTL }

func (h *fakeHooks) RandUint64() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Uint64()
}

func (h *fakeHooks) RandInt31() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Int31()
}

func (h *fakeHooks) RandFloat64() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

// newTestManager builds a manager with both disable flags cleared
// (subsystem on) over the given table and waiter.
func newTestManager(table *fakeTable, waiter MessageWaiter) (*Manager, *manualTicker) {
	ticker := &manualTicker{}
	if waiter == nil {
		waiter = &scriptWaiter{}
	}
	m := NewManager(Config{}, table, waiter, ticker, newFakeHooks(42), nil)
	return m, ticker
}

// Package netid partitions a node's directly connected neighbours
// into network groups by measuring pairwise reachability with
// HTL-bounded secret pings, and publishes a consensus integer label
// for the group the local node belongs to.
//
// The manager is best-effort and fully volatile: any transient
// anomaly during a round is corrected in the next, and nothing is
// persisted.
package netid

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Config carries the two feature flags gating the subsystem. Both
// default to true: the subsystem is off until explicitly enabled.
type Config struct {
	// DisableSecretPings makes the server side reject every inbound
	// SecretPing with RejectedLoop.
	DisableSecretPings bool

	// DisableSecretPinger suppresses all prober scheduling.
	DisableSecretPinger bool
}

// DefaultConfig returns the off-by-default configuration.
func DefaultConfig() Config {
	return Config{DisableSecretPings: true, DisableSecretPinger: true}
}

// Manager is the network-id manager: secret store, sample matrix,
// protocol engine, prober, reckoner, reactor, and group registry
// behind one façade. Construct with NewManager, then Start.
type Manager struct {
	peers  PeerTable
	waiter MessageWaiter
	ticker Ticker
	node   NodeHooks

	metrics *Metrics // nil-safe

	disablePings  atomic.Bool
	disablePinger atomic.Bool

	secrets  *secretStore
	matrix   *pingMatrix
	prober   *prober
	registry *groupRegistry

	// dontStartPlease serialises the reckoner with the reactor; it is
	// the top of the lock hierarchy and is never held across a wait.
	dontStartPlease sync.Mutex
	inTransition    atomic.Bool

	// ourNetworkID is written only inside the reckon critical section
	// and read lock-free by external queries.
	ourNetworkID atomic.Int32

	// handlerSlots bounds concurrently dispatched inbound SecretPing
	// workers.
	handlerSlots *semaphore.Weighted
}

// NewManager wires the manager to its collaborators. metrics may be
// nil.
func NewManager(cfg Config, peers PeerTable, waiter MessageWaiter, ticker Ticker, node NodeHooks, metrics *Metrics) *Manager {
	m := &Manager{
		peers:        peers,
		waiter:       waiter,
		ticker:       ticker,
		node:         node,
		metrics:      metrics,
		secrets:      newSecretStore(),
		matrix:       newPingMatrix(node.MaxHTL()),
		registry:     newGroupRegistry(),
		handlerSlots: semaphore.NewWeighted(maxPingHandlers),
	}
	m.disablePings.Store(cfg.DisableSecretPings)
	m.disablePinger.Store(cfg.DisableSecretPinger)
	m.prober = newProber(m)
	return m
}

// Start schedules the prober's first tick after the startup delay.
// A no-op when the pinger is disabled.
func (m *Manager) Start() {
	if m.disablePinger.Load() {
		return
	}
	m.prober.start()
}

// Stop prevents further prober scheduling. In-flight work finishes
// on its own timeouts.
func (m *Manager) Stop() {
	m.prober.stop()
}

// OurNetworkID returns the id of the group the local node believes
// it belongs to, NoNetworkID before the first reckon. Lock-free; a
// stale read is acceptable.
func (m *Manager) OurNetworkID() int32 {
	return m.ourNetworkID.Load()
}

// Groups returns the current ordered group list, highest priority
// first.
func (m *Manager) Groups() []*PeerNetworkGroup {
	return m.registry.snapshot()
}

// MatrixAverages returns a snapshot of the sample matrix success
// rates, for diagnostics.
func (m *Manager) MatrixAverages() map[string]map[string]float64 {
	raw := m.matrix.snapshotAverages()
	out := make(map[string]map[string]float64, len(raw))
	for target, row := range raw {
		dst := make(map[string]float64, len(row))
		for via, avg := range row {
			dst[via.String()] = avg
		}
		out[target.String()] = dst
	}
	return out
}

// ProbeCounters reports lifetime secret-ping attempts and successes.
func (m *Manager) ProbeCounters() (attempts, successes uint64) {
	return m.prober.counters()
}

// OnPeerDisconnect drops all manager state for p: its stored secret
// and its row and column in the sample matrix.
func (m *Manager) OnPeerDisconnect(p PeerNode) {
	m.secrets.onDisconnect(p)
	m.matrix.forget(p.ID())
}

// chooseID resolves a consensus result into a usable id: a zero or
// taken id is replaced with a fresh random non-zero id outside
// taken.
func (m *Manager) chooseID(id int32, taken map[int32]bool) int32 {
	for id == NoNetworkID || taken[id] {
		id = m.node.RandInt31()
	}
	return id
}

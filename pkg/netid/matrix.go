package netid

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// pingMatrix is the directional two-level sample map: rows[a][b]
// holds the record for "a reached through b", independent of
// rows[b][a].
//
// forget interlocks with the prober: removing the peer currently
// being probed only sets a race flag, and the prober discards the
// in-flight volley's records at the end of the run.
type pingMatrix struct {
	mu   sync.Mutex
	rows map[peer.ID]map[peer.ID]*PingRecord

	probing   peer.ID // target of the in-flight volley, "" when idle
	raceFlag  bool
	maxHTL    int16
}

func newPingMatrix(maxHTL int16) *pingMatrix {
	return &pingMatrix{
		rows:   make(map[peer.ID]map[peer.ID]*PingRecord),
		maxHTL: maxHTL,
	}
}

// get returns the record for (target, via), creating it lazily.
func (m *pingMatrix) get(target, via peer.ID) *PingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[target]
	if !ok {
		row = make(map[peer.ID]*PingRecord)
		m.rows[target] = row
	}
	rec, ok := row[via]
	if !ok {
		rec = newPingRecord(m.maxHTL)
		row[via] = rec
	}
	return rec
}

// average returns the success rate for (target, via), 0 when the
// pair was never sampled.
func (m *pingMatrix) average(target, via peer.ID) float64 {
	m.mu.Lock()
	row, ok := m.rows[target]
	if !ok {
		m.mu.Unlock()
		return 0
	}
	rec, ok := row[via]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return rec.Average()
}

// forget removes p both as a target row and as a via column in every
// remaining row. If p is the peer currently being probed, only the
// race flag is set; the prober discards the volley itself.
func (m *pingMatrix) forget(p peer.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.probing == p {
		m.raceFlag = true
		return
	}
	m.removeLocked(p)
}

func (m *pingMatrix) removeLocked(p peer.ID) {
	delete(m.rows, p)
	for _, row := range m.rows {
		delete(row, p)
	}
}

// beginProbe marks p as the in-flight volley target and clears any
// stale race flag.
func (m *pingMatrix) beginProbe(p peer.ID) {
	m.mu.Lock()
	m.probing = p
	m.raceFlag = false
	m.mu.Unlock()
}

// raced reports whether a forget raced with the current volley.
func (m *pingMatrix) raced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raceFlag
}

// endProbe clears the in-flight marker. If a forget raced with the
// volley, the target's row and column are dropped now, discarding
// the volley's samples.
func (m *pingMatrix) endProbe() (raced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raced = m.raceFlag
	if raced {
		m.removeLocked(m.probing)
	}
	m.probing = ""
	m.raceFlag = false
	return raced
}

// snapshotAverages returns a copy of the matrix as plain averages,
// for diagnostics.
func (m *pingMatrix) snapshotAverages() map[peer.ID]map[peer.ID]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[peer.ID]map[peer.ID]float64, len(m.rows))
	for target, row := range m.rows {
		dst := make(map[peer.ID]float64, len(row))
		for via, rec := range row {
			dst[via] = rec.Average()
		}
		out[target] = dst
	}
	return out
}

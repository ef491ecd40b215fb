package netid

import (
	"math"
	"sync"
	"time"

	"github.com/misaakidis/fred-staging/internal/stats"
)

// PingRecord accumulates probe outcomes for one (target, via) pair
// and adapts the next probe's HTL and dawn HTL from them. The dawn
// averages store htl-dawn, the random-hop count, not the raw dawn
// value.
//
// Success/Failure calls are serialised by the single-prober
// invariant; reads from the reckoner may lag one sample.
type PingRecord struct {
	mu              sync.Mutex
	lastTry         time.Time
	lastSuccess     time.Time
	shortestSuccess int32 // lowest hop counter seen on a pong; -1 until first success

	average *stats.RunningAverage // 0.0/1.0 outcome samples
	sHTL    *stats.RunningAverage // htl on success
	fHTL    *stats.RunningAverage // htl on failure
	sDawn   *stats.RunningAverage // random-hop count on success
	fDawn   *stats.RunningAverage // random-hop count on failure

	maxHTL int16
}

func newPingRecord(maxHTL int16) *PingRecord {
	top := float64(maxHTL)
	return &PingRecord{
		shortestSuccess: -1,
		average:         stats.NewRunningAverage(0, 0, 1, averageHorizon),
		sHTL:            stats.NewRunningAverage(0, 0, top, averageHorizon),
		fHTL:            stats.NewRunningAverage(0, 0, top, averageHorizon),
		sDawn:           stats.NewRunningAverage(0, 0, top, averageHorizon),
		fDawn:           stats.NewRunningAverage(0, 0, top, averageHorizon),
		maxHTL:          maxHTL,
	}
}

// Success folds in a successful probe. counter is the hop count the
// pong reported back.
func (r *PingRecord) Success(counter int32, htl, dawn int16) {
	r.average.Report(1)
	r.sHTL.Report(float64(htl))
	r.sDawn.Report(float64(htl - dawn))

	r.mu.Lock()
	now := time.Now()
	r.lastTry = now
	r.lastSuccess = now
	if r.shortestSuccess < 0 || counter < r.shortestSuccess {
		r.shortestSuccess = counter
	}
	r.mu.Unlock()
}

// Failure folds in a failed probe.
func (r *PingRecord) Failure(counter int32, htl, dawn int16) {
	r.average.Report(0)
	r.fHTL.Report(float64(htl))
	r.fDawn.Report(float64(htl - dawn))

	r.mu.Lock()
	r.lastTry = time.Now()
	r.mu.Unlock()
}

// Average is the decayed success rate in [0, 1].
func (r *PingRecord) Average() float64 {
	return r.average.Value()
}

// NextHTL picks the hops-to-live for the next probe: the ceiling
// while still bootstrapping, then nudged down while the pair is
// reliable and up while it is not, clamped to [minHTL, maxHTL].
func (r *PingRecord) NextHTL() int16 {
	if r.sHTL.Count() < comfortLevel {
		return r.maxHTL
	}

	var next int16
	if r.average.Value() > 0.8 {
		next = int16(math.Round(r.sHTL.Value() - 0.5))
	} else {
		next = int16(math.Round(r.sHTL.Value() + 0.5))
	}

	if next < minHTL {
		next = minHTL
	}
	if next > r.maxHTL {
		next = r.maxHTL
	}
	return next
}

// NextDawnHTL picks the dawn HTL for a probe sent at htl. The random
// prefix never exceeds htl/2 - 1 hops, keeping at least half the
// path deterministic.
func (r *PingRecord) NextDawnHTL(htl int16) int16 {
	var diff int16
	switch {
	case r.fDawn.Count() < comfortLevel:
		diff = 2
	case r.sDawn.Count() < comfortLevel:
		diff = int16(math.Round(r.fDawn.Value()))
	default:
		diff = int16(math.Round(0.25*r.fDawn.Value() + 0.75*r.sDawn.Value()))
	}

	if limit := htl/2 - 1; diff > limit {
		diff = limit
	}
	if diff < 0 {
		diff = 0
	}
	return htl - diff
}

// LastTry returns the time of the most recent probe against this
// pair, zero if never probed.
func (r *PingRecord) LastTry() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTry
}

// LastSuccess returns the time of the most recent successful probe.
func (r *PingRecord) LastSuccess() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess
}

// ShortestSuccess returns the lowest hop counter seen on any pong,
// or -1 before the first success.
func (r *PingRecord) ShortestSuccess() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortestSuccess
}

// SuccessCount returns the number of success samples.
func (r *PingRecord) SuccessCount() uint64 {
	return r.sHTL.Count()
}

// FailureCount returns the number of failure samples.
func (r *PingRecord) FailureCount() uint64 {
	return r.fHTL.Count()
}

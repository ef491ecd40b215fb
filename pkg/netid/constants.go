package netid

import "time"

// ---------------------------------------------------------------------------
// Protocol and scheduling tuning constants
//
// These are process-local constants, not config. The two feature
// flags that gate the subsystem live on Config in manager.go;
// DefaultConfig sets both, leaving the subsystem off.
// ---------------------------------------------------------------------------

const (
	// startupDelay is how long after start the prober waits before
	// its first tick, giving the node time to bring up connections.
	startupDelay = 20 * time.Second

	// betweenPeers is the inter-tick delay while the work queue is
	// non-empty, and the reactor's anti-thrash window: a group
	// reassigned within this window is not reassigned again.
	betweenPeers = 2 * time.Second

	// longPeriod is the steady-state delay once every connected peer
	// has been probed and the queue refilled.
	longPeriod = 120 * time.Second

	// probePoliteness spaces consecutive probes within one volley.
	probePoliteness = 200 * time.Millisecond

	// minHTL is the floor the adaptive sampler never probes below.
	minHTL int16 = 3

	// minPingsForStartup scales the startup draining phase: reckoning
	// is suppressed for connectedPeers * minPingsForStartup ticks.
	minPingsForStartup = 3

	// comfortLevel is the sample count below which the sampler still
	// bootstraps (full-HTL probes, fixed dawn offset).
	comfortLevel = 20

	// pingVolleysPerRecompute is how many completed volleys separate
	// reckoner runs.
	pingVolleysPerRecompute = 5

	// linearGraceFactor scales a cluster seed's goodness into the
	// pull threshold during extraction.
	linearGraceFactor = 0.8

	// fallOpenMark is the goodness below which clustering falls open
	// and lumps all remaining peers into one group.
	fallOpenMark = 0.2

	// dregsMergeMark is the two-way average above which a lone
	// leftover peer is merged into a single-member cluster.
	dregsMergeMark = 0.25

	// acceptedTimeout bounds the wait for an Accepted after a
	// StoreSecret.
	acceptedTimeout = 5 * time.Second

	// secretPongTimeout bounds the wait for a SecretPong or
	// RejectedLoop after forwarding or sending a SecretPing.
	secretPongTimeout = 20 * time.Second

	// NoNetworkID is the sentinel for "no id assigned".
	NoNetworkID int32 = 0

	// averageHorizon is the decay horizon of every sampler average.
	averageHorizon = 200

	// maxPingHandlers bounds concurrently dispatched inbound
	// SecretPing workers.
	maxPingHandlers = 32
)

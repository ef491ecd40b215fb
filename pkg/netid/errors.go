package netid

import "errors"

var (
	// ErrWaitTimeout is returned by MessageWaiter.WaitFor when the
	// per-wait timeout expires before a matching message arrives.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrSourceGone is returned when the peer a wait or send is bound
	// to disconnects mid-transaction.
	ErrSourceGone = errors.New("peer disconnected")

	// ErrProberBusy is logged when a prober tick fires while a
	// previous tick is still processing. A programming error in the
	// scheduler; the tick is skipped.
	ErrProberBusy = errors.New("prober tick re-entered")
)

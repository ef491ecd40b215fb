package simnet

import (
	"context"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/misaakidis/fred-staging/pkg/netid"
)

// peerView is one node's handle on a remote node. All netid.PeerNode
// state that is per-relationship (announced id, assigned id) lives
// here, not on the remote.
type peerView struct {
	owner  *Node
	remote *Node

	provided atomic.Int32 // id the remote announced for itself
	assigned atomic.Int32 // id the owner's manager assigned
}

func (v *peerView) ID() peer.ID       { return v.remote.id }
func (v *peerView) Location() float64 { return v.remote.loc }

func (v *peerView) IsConnected() bool {
	v.owner.mu.Lock()
	defer v.owner.mu.Unlock()
	_, ok := v.owner.conns[v.remote.id]
	return ok
}

func (v *peerView) IsRoutable() bool { return v.IsConnected() }

// DecrementHTL applies the link policy: clamp to the ceiling, then
// spend one hop.
func (v *peerView) DecrementHTL(htl int16) int16 {
	if htl > v.owner.maxHTL {
		htl = v.owner.maxHTL
	}
	return htl - 1
}

// SendAsync delivers msg to the remote on a fresh goroutine.
func (v *peerView) SendAsync(msg netid.Message) error {
	if !v.IsConnected() {
		return netid.ErrSourceGone
	}
	go v.remote.receive(v.owner, msg)
	return nil
}

// SendSync delivers msg inline: the remote's receive path runs on
// the caller's goroutine before this returns. SecretPing handling
// moves to a worker goroutine there, so a ping send does not wait
// for the forward.
func (v *peerView) SendSync(ctx context.Context, msg netid.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !v.IsConnected() {
		return netid.ErrSourceGone
	}
	v.remote.receive(v.owner, msg)
	return nil
}

func (v *peerView) ProvidedNetworkID() int32 { return v.provided.Load() }

func (v *peerView) SetAssignedNetworkID(id int32) { v.assigned.Store(id) }

// AssignedNetworkID reports the id the owner's manager last assigned
// to this peer's group.
func (v *peerView) AssignedNetworkID() int32 { return v.assigned.Load() }

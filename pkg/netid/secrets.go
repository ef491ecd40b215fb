package netid

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// StoredSecret is a (uid, secret) pair lodged at this node by a
// directly connected peer. At most one live entry per peer.
type StoredSecret struct {
	Peer   PeerNode
	UID    uint64
	Secret uint64
}

// secretStore indexes stored secrets both by peer and by uid. The
// two maps stay coherent under one lock: a byUID hit always refers
// to a live peer entry.
type secretStore struct {
	mu     sync.Mutex
	byPeer map[peer.ID]*StoredSecret
	byUID  map[uint64]*StoredSecret
}

func newSecretStore() *secretStore {
	return &secretStore{
		byPeer: make(map[peer.ID]*StoredSecret),
		byUID:  make(map[uint64]*StoredSecret),
	}
}

// put records a new secret for p, evicting any prior entry for the
// same peer from both indexes.
func (s *secretStore) put(p PeerNode, uid, secret uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byPeer[p.ID()]; ok {
		delete(s.byUID, old.UID)
	}
	entry := &StoredSecret{Peer: p, UID: uid, Secret: secret}
	s.byPeer[p.ID()] = entry
	s.byUID[uid] = entry
}

// byUid returns the live entry for uid, or nil.
func (s *secretStore) byUid(uid uint64) *StoredSecret {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byUID[uid]
}

// onDisconnect drops p's entry from both indexes.
func (s *secretStore) onDisconnect(p PeerNode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byPeer[p.ID()]; ok {
		delete(s.byUID, old.UID)
		delete(s.byPeer, p.ID())
	}
}

// remove drops a specific entry, keyed by its peer and uid.
func (s *secretStore) remove(e *StoredSecret) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.byPeer[e.Peer.ID()]; ok && cur.UID == e.UID {
		delete(s.byPeer, e.Peer.ID())
	}
	delete(s.byUID, e.UID)
}

func (s *secretStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPeer)
}

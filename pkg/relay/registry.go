package relay

import (
	"sync"
)

// Registry tracks the peers that are currently connected.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = p
}

// Unregister removes the peer and reports whether it was present.
func (r *Registry) Unregister(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID()]; !ok {
		return false
	}
	delete(r.peers, p.ID())
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ForEachOpen calls fn once for every registered peer that is still open. The
// membership is snapshotted first so fn may register or unregister peers.
func (r *Registry) ForEachOpen(fn func(Peer)) {
	r.mu.RLock()
	snapshot := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		snapshot = append(snapshot, p)
	}
	r.mu.RUnlock()

	for _, p := range snapshot {
		if p.Open() {
			fn(p)
		}
	}
}

// CloseAll closes and removes every peer.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]Peer)
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.Close()
	}
}

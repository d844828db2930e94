// Package registry holds the set of registered sessions shared by every
// connection handler of a relay.
//
// All operations take the same mutex, so a snapshot never observes a
// half-applied Add or Remove. Snapshots are copies; callers never see the
// underlying collections.
package registry

import (
	"net"
	"sync"
)

// Registry maps session identity to Session and keeps the derived list of
// datagram endpoints in step with it.
type Registry struct {
	mu        sync.Mutex
	order     []string
	sessions  map[string]*Session
	endpoints map[string]*net.UDPAddr
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		endpoints: make(map[string]*net.UDPAddr),
	}
}

// Add registers s and its datagram endpoint. It returns false and changes
// nothing if the identity is already present.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return false
	}
	r.sessions[s.ID] = s
	r.endpoints[s.ID] = s.DatagramAddr
	r.order = append(r.order, s.ID)
	return true
}

// Remove drops the session with identity id from both collections.
// It is idempotent; ok is false if nothing was registered under id.
func (r *Registry) Remove(id string) (s *Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok = r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	delete(r.endpoints, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SnapshotSessions returns the registered sessions in join order.
func (r *Registry) SnapshotSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// SnapshotEndpoints returns copies of the datagram endpoints in join order.
func (r *Registry) SnapshotEndpoints() []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*net.UDPAddr, 0, len(r.order))
	for _, id := range r.order {
		ep := r.endpoints[id]
		cp := *ep
		cp.IP = append(net.IP(nil), ep.IP...)
		out = append(out, &cp)
	}
	return out
}

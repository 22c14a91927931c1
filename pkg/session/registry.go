package session

import "sync"

// Registry holds the single live-preview subscriber.
type Registry struct {
	mu   sync.Mutex
	live ConnID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe makes id the live subscriber, replacing any previous one.
func (r *Registry) Subscribe(id ConnID) {
	if id == Broadcast {
		return
	}
	r.mu.Lock()
	r.live = id
	r.mu.Unlock()
}

// Unsubscribe clears the subscription if id holds it.
func (r *Registry) Unsubscribe(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live != id || id == Broadcast {
		return false
	}
	r.live = Broadcast
	return true
}

// Drop is called on disconnect; it clears the subscription if id holds it.
func (r *Registry) Drop(id ConnID) bool {
	return r.Unsubscribe(id)
}

// Live returns the current subscriber.
func (r *Registry) Live() (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live, r.live != Broadcast
}

// IsLive reports whether id is the subscriber.
func (r *Registry) IsLive(id ConnID) bool {
	live, ok := r.Live()
	return ok && live == id
}

// Reset clears the subscription. Used at shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.live = Broadcast
	r.mu.Unlock()
}

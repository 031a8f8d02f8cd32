package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide map from topic string to the set of
// sessions subscribed to it. Every read or write of the map, or of any
// contained set, happens under mu (spec.md §4.5).
//
// Topics are keyed by session UUID rather than by raw socket (REDESIGN
// FLAG 2 in SPEC_FULL.md §4.5): eviction on disconnect is
// O(topics-joined-by-that-session) via the reverse index, not
// O(total-topics).
type Registry struct {
	mu sync.RWMutex

	topics   map[string]map[uuid.UUID]*Session
	sessions map[uuid.UUID]*Session
	joined   map[uuid.UUID]map[string]struct{} // reverse index: session -> topics it joined
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		topics:   make(map[string]map[uuid.UUID]*Session),
		sessions: make(map[uuid.UUID]*Session),
		joined:   make(map[uuid.UUID]map[string]struct{}),
	}
}

// Add makes s known to the registry (without joining any topic yet).
// Idempotent.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	if _, ok := r.joined[s.ID]; !ok {
		r.joined[s.ID] = make(map[string]struct{})
	}
}

// Subscribe inserts s into topic's subscriber set. Idempotent: a
// session appears at most once per topic (spec.md §3 invariant under
// "Subscription registry").
func (r *Registry) Subscribe(s *Session, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = make(map[uuid.UUID]*Session)
	}
	r.topics[topic][s.ID] = s

	if _, ok := r.joined[s.ID]; !ok {
		r.joined[s.ID] = make(map[string]struct{})
	}
	r.joined[s.ID][topic] = struct{}{}
}

// Subscribers returns a snapshot of the sessions currently registered
// against topic. The snapshot is taken under the registry guard at
// call time; the router's ordering guarantee is exactly this snapshot
// (spec.md §4.6).
func (r *Registry) Subscribers(topic string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.topics[topic]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Remove evicts s from every topic set it joined (spec.md invariant 1:
// a session handle appears in the registry only while its connection is
// open). The map need not preserve empty topic sets, so an
// emptied-out topic is dropped entirely.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.joined[s.ID] {
		if set, ok := r.topics[topic]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	delete(r.joined, s.ID)
	delete(r.sessions, s.ID)
}

// TopicCount reports how many topics currently have at least one
// subscriber, used by the metrics gauge.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// SessionCount reports how many sessions are currently registered.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of every session currently registered,
// used by the broker's shutdown path to notify connected clients.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

package relay

import "sync"

// Registry owns the set of live subscribers and the round-robin cursor.
// Subscribers are kept in insertion order; the cursor indexes into that order
// and is only read or moved while mu is held.
type Registry struct {
	mu     sync.Mutex
	subs   []Subscriber
	index  map[string]int
	cursor int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends sub to the end of the rotation.
func (r *Registry) Register(sub Subscriber) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[sub.ID()]; ok {
		return ErrDuplicateSubscriber
	}
	r.index[sub.ID()] = len(r.subs)
	r.subs = append(r.subs, sub)
	return nil
}

// Deregister removes the subscriber with the given id. It reports whether the
// subscriber was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.index[id]
	if !ok {
		return false
	}
	delete(r.index, id)
	copy(r.subs[pos:], r.subs[pos+1:])
	r.subs[len(r.subs)-1] = nil
	r.subs = r.subs[:len(r.subs)-1]
	for i := pos; i < len(r.subs); i++ {
		r.index[r.subs[i].ID()] = i
	}
	if r.cursor >= len(r.subs) {
		r.cursor = 0
	}
	return true
}

// Snapshot returns a copy of the ordered subscribers and the current cursor.
func (r *Registry) Snapshot() ([]Subscriber, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscriber, len(r.subs))
	copy(out, r.subs)
	return out, r.cursor
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// dispatch picks the subscriber under the cursor, advances the cursor and
// queues payload on it, all under one critical section. Subscriber.Send only
// enqueues, so no network I/O happens while mu is held.
func (r *Registry) dispatch(payload []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.subs)
	if n == 0 {
		return Delivery{Outcome: OutcomeNoSubscribers}
	}
	idx := r.cursor % n
	sub := r.subs[idx]
	r.cursor = (idx + 1) % n

	if sub.State() != StateOpen {
		return Delivery{Outcome: OutcomeSkippedClosed, SubscriberID: sub.ID()}
	}
	if !sub.Send(payload) {
		if sub.State() != StateOpen {
			return Delivery{Outcome: OutcomeSkippedClosed, SubscriberID: sub.ID()}
		}
		return Delivery{Outcome: OutcomeDroppedBufferFull, SubscriberID: sub.ID()}
	}
	return Delivery{Outcome: OutcomeDelivered, SubscriberID: sub.ID()}
}

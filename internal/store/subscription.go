package store

import (
	"sync"
)

// subscription delivers records to one onChange callback from its own goroutine.
// Pending records are coalesced: a slow consumer sees the latest value, never a stale one.
type subscription struct {
	key string
	fn  func(*Record)

	mu      sync.Mutex
	pending *Record
	has     bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(key string, fn func(*Record)) *subscription {
	s := &subscription{
		key:  key,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) post(rec *Record) {
	s.mu.Lock()
	s.pending = rec
	s.has = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		rec, ok := s.pending, s.has
		s.pending, s.has = nil, false
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(rec)
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) stopped() <-chan struct{} { return s.done }

// hub fans records out to the subscriptions registered per key.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]*subscription
}

func (h *hub) subscribe(key string, fn func(*Record)) (*subscription, Unsubscribe) {
	sub := newSubscription(key, fn)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[string]map[int]*subscription)
	}
	h.next++
	id := h.next
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]*subscription)
	}
	h.subs[key][id] = sub
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		if byID, ok := h.subs[key]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}
}

func (h *hub) publish(key string, rec *Record) {
	h.mu.Lock()
	targets := make([]*subscription, 0, len(h.subs[key]))
	for _, sub := range h.subs[key] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()
	for _, sub := range targets {
		sub.post(rec)
	}
}

func (h *hub) watched(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key]) > 0
}

func (h *hub) keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for k := range h.subs {
		out = append(out, k)
	}
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()
	for _, byID := range subs {
		for _, sub := range byID {
			sub.stop()
		}
	}
}

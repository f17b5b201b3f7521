package session

import (
	"sort"
	"sync"
)

// resources tracks every release function a session holds. Once closed, anything
// registered afterwards is released immediately, so a strategy that finishes arming
// after the session settled cannot leak.
type resources struct {
	mu     sync.Mutex
	held   map[string]func()
	closed bool
}

func newResources() *resources {
	return &resources{held: make(map[string]func())}
}

// add registers release under name, replacing and releasing any previous holder.
func (r *resources) add(name string, release func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		release()
		return
	}
	prev := r.held[name]
	r.held[name] = release
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// release frees one resource early.
func (r *resources) release(name string) {
	r.mu.Lock()
	fn := r.held[name]
	delete(r.held, name)
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// closeAll frees everything and refuses further registrations.
func (r *resources) closeAll() {
	r.mu.Lock()
	held := r.held
	r.held = make(map[string]func())
	r.closed = true
	r.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

func (r *resources) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.held))
	for name := range r.held {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

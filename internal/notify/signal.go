// Package notify provides broadcast notification primitives used to
// wake watchers on a change they don't need to queue or replay — the
// config watcher and the plugin-root discovery watcher both use a
// Signal to tell blocked readers "something changed, go re-check,"
// without caring how many change events were coalesced in between.
package notify

import "sync"

// Signal is a broadcast notification mechanism. Callers wait on C(),
// and any call to Notify() wakes all current waiters by closing the
// channel and creating a fresh one. A waiter that is slow to call C()
// again only misses intermediate wakeups, never the fact that a change
// happened — which is exactly what a watcher that re-reads full state
// on each wakeup needs.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify() call.
// Callers should re-call C() after each wakeup to get the next channel.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

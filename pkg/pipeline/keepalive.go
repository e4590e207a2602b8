package pipeline

import "sync"

// KeepAlive counts asynchronous side work per conversation and holds back
// the conversation's termination until that work is done.
type KeepAlive[T any] struct {
	mu      sync.Mutex
	entries map[string]*keepAliveEntry[T]
}

type keepAliveEntry[T any] struct {
	pending     int
	termination *T
}

// NewKeepAlive creates an empty set.
func NewKeepAlive[T any]() *KeepAlive[T] {
	return &KeepAlive[T]{entries: make(map[string]*keepAliveEntry[T])}
}

// Add registers one more pending side task for id.
func (k *KeepAlive[T]) Add(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		e = &keepAliveEntry[T]{}
		k.entries[id] = e
	}
	e.pending++
}

// AddTermination stashes term for id while side work is pending.
// It reports false when nothing is pending, in which case the caller
// forwards term itself.
func (k *KeepAlive[T]) AddTermination(id string, term T) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		return false
	}
	e.termination = &term
	return true
}

// Remove marks one side task for id as finished. When the last one
// finishes the entry is dropped and the stashed termination, if any,
// is returned for the caller to forward.
func (k *KeepAlive[T]) Remove(id string) (term T, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, exists := k.entries[id]
	if !exists {
		return term, false
	}
	e.pending--
	if e.pending > 0 {
		return term, false
	}
	delete(k.entries, id)
	if e.termination == nil {
		return term, false
	}
	return *e.termination, true
}

// Pending returns the number of side tasks in flight for id.
func (k *KeepAlive[T]) Pending(id string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.entries[id]; ok {
		return e.pending
	}
	return 0
}

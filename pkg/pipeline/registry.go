package pipeline

import "sync"

// Registry maps conversation identifiers to their priority sinks.
// One registry is shared by every stage that answers a conversation.
type Registry[T any] struct {
	mu    sync.RWMutex
	sinks map[string]*Queue[T]
	less  func(a, b T) bool
}

// NewRegistry creates a registry whose sinks are ordered by less.
func NewRegistry[T any](less func(a, b T) bool) *Registry[T] {
	return &Registry[T]{
		sinks: make(map[string]*Queue[T]),
		less:  less,
	}
}

// Create returns the sink for id, creating it on first use.
func (r *Registry[T]) Create(id string) *Sink[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.sinks[id]
	if !ok {
		q = NewPriorityQueue(r.less)
		r.sinks[id] = q
	}
	return NewSink(q)
}

// Set binds an existing sink to id. It reports false if id is taken.
func (r *Registry[T]) Set(id string, sink *Sink[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[id]; ok {
		return false
	}
	r.sinks[id] = sink.q
	return true
}

// Delete forgets id. Items still queued are dropped with the sink.
func (r *Registry[T]) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

// Put queues item on id's sink. It reports false for an unknown id.
func (r *Registry[T]) Put(id string, item T) bool {
	r.mu.RLock()
	q, ok := r.sinks[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	q.Put(item)
	return true
}

// Has reports whether id has a sink.
func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sinks[id]
	return ok
}

// Len returns the number of live sinks.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

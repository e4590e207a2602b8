package pipeline

import "time"

// Sink is a read-only handle on a queue owned by a stage.
type Sink[T any] struct {
	q       *Queue[T]
	timeout time.Duration
}

// NewSink wraps q.
func NewSink[T any](q *Queue[T]) *Sink[T] {
	return &Sink[T]{q: q, timeout: PollTimeout}
}

// Drain waits up to PollTimeout for the next item. ok is false when
// nothing arrived; callers keep looping.
func (s *Sink[T]) Drain() (item T, ok bool) {
	return s.q.Get(s.timeout)
}

// DrainTimeout is Drain with an explicit timeout.
func (s *Sink[T]) DrainTimeout(d time.Duration) (item T, ok bool) {
	return s.q.Get(d)
}

// Len returns the number of items waiting.
func (s *Sink[T]) Len() int {
	return s.q.Len()
}

package pipeline

import (
	"container/heap"
	"sync"
	"time"
)

// Queue is a goroutine-safe channel between stages.
//
// Without an ordering function it is FIFO. With one it is a priority queue
// that keeps arrival order between equal items. A positive maxsize bounds
// the queue and makes Put block while it is full.
type Queue[T any] struct {
	mu       sync.Mutex
	items    entries[T]
	seq      uint64
	maxsize  int
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewQueue creates a FIFO queue. maxsize <= 0 means unbounded.
func NewQueue[T any](maxsize int) *Queue[T] {
	return newQueue[T](maxsize, nil)
}

// NewPriorityQueue creates an unbounded queue ordered by less.
func NewPriorityQueue[T any](less func(a, b T) bool) *Queue[T] {
	return newQueue(0, less)
}

func newQueue[T any](maxsize int, less func(a, b T) bool) *Queue[T] {
	return &Queue[T]{
		items:    entries[T]{less: less},
		maxsize:  maxsize,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// Put appends item, blocking while a bounded queue is full.
func (q *Queue[T]) Put(item T) {
	for !q.Offer(item, time.Hour) {
	}
}

// Offer appends item, waiting at most timeout for room. It reports whether
// the item was queued.
func (q *Queue[T]) Offer(item T, timeout time.Duration) bool {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if q.maxsize <= 0 || q.items.Len() < q.maxsize {
			q.seq++
			heap.Push(&q.items, entry[T]{value: item, seq: q.seq})
			q.mu.Unlock()
			signal(q.notEmpty)
			if timer != nil {
				timer.Stop()
			}
			return true
		}
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.notFull:
		case <-timer.C:
			return false
		}
	}
}

// Get removes the head item, waiting at most timeout for one to arrive.
// ok is false when the queue stayed empty.
func (q *Queue[T]) Get(timeout time.Duration) (item T, ok bool) {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(entry[T])
			remaining := q.items.Len()
			q.mu.Unlock()
			signal(q.notFull)
			if remaining > 0 {
				signal(q.notEmpty)
			}
			if timer != nil {
				timer.Stop()
			}
			return e.value, true
		}
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.notEmpty:
		case <-timer.C:
			return item, false
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type entry[T any] struct {
	value T
	seq   uint64
}

// entries implements heap.Interface. Without less it degrades to FIFO.
type entries[T any] struct {
	list []entry[T]
	less func(a, b T) bool
}

func (e entries[T]) Len() int { return len(e.list) }

func (e entries[T]) Less(i, j int) bool {
	a, b := e.list[i], e.list[j]
	if e.less != nil {
		if e.less(a.value, b.value) {
			return true
		}
		if e.less(b.value, a.value) {
			return false
		}
	}
	return a.seq < b.seq
}

func (e entries[T]) Swap(i, j int) { e.list[i], e.list[j] = e.list[j], e.list[i] }

func (e *entries[T]) Push(x any) { e.list = append(e.list, x.(entry[T])) }

func (e *entries[T]) Pop() any {
	old := e.list
	n := len(old)
	item := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	e.list = old[:n-1]
	return item
}

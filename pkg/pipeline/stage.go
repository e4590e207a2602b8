package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Node is the part of a stage that pipe needs: it accepts an intake and can
// pipe itself to the next node.
type Node[T any] interface {
	SetIntake(q *Queue[T])
	Pipe(next Node[T]) Node[T]
}

// Stage consumes from one intake and produces to plain outputs and to
// identified sinks.
//
// Concrete stages embed *Stage and call Loop from their Start method.
type Stage[T any] struct {
	Task

	name   string
	logger *slog.Logger

	mu    sync.RWMutex
	in    *Queue[T]
	outs  []*Queue[T]
	sinks *Registry[T]
	idle  func()
}

// NewStage creates a stage whose identified sinks are ordered by less.
func NewStage[T any](name string, less func(a, b T) bool, logger *slog.Logger) *Stage[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage[T]{
		name:   name,
		logger: logger.With("stage", name),
		sinks:  NewRegistry(less),
	}
}

// Name returns the stage name.
func (s *Stage[T]) Name() string { return s.name }

// Logger returns the stage logger.
func (s *Stage[T]) Logger() *slog.Logger { return s.logger }

// UseRegistry shares r as this stage's identified sink registry.
func (s *Stage[T]) UseRegistry(r *Registry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = r
}

// Registry returns the identified sink registry.
func (s *Stage[T]) Registry() *Registry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sinks
}

// SetIntake binds the queue this stage consumes from.
// A stage has exactly one intake; binding a second one panics.
func (s *Stage[T]) SetIntake(q *Queue[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in != nil {
		panic(fmt.Sprintf("pipeline: stage %q already has an intake", s.name))
	}
	s.in = q
}

// CreateIntake allocates the intake queue and returns it for producers
// outside the pipeline.
func (s *Stage[T]) CreateIntake(maxsize int) *Queue[T] {
	q := NewQueue[T](maxsize)
	s.SetIntake(q)
	return q
}

// Intake returns the intake queue, nil if none is bound yet.
func (s *Stage[T]) Intake() *Queue[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.in
}

// Pipe wires a new queue from this stage to next and returns next,
// so calls chain: a.Pipe(b).Pipe(c).
func (s *Stage[T]) Pipe(next Node[T]) Node[T] {
	q := NewQueue[T](0)
	s.addOutput(q)
	next.SetIntake(q)
	return next
}

// CreateSink adds an output not bound to any stage.
func (s *Stage[T]) CreateSink(maxsize int) *Sink[T] {
	q := NewQueue[T](maxsize)
	s.addOutput(q)
	return NewSink(q)
}

// CreateIdentifiedSink returns the sink for id, creating it if needed.
func (s *Stage[T]) CreateIdentifiedSink(id string) *Sink[T] {
	return s.Registry().Create(id)
}

// SetIdentifiedSink binds a sink created elsewhere to id.
func (s *Stage[T]) SetIdentifiedSink(id string, sink *Sink[T]) bool {
	return s.Registry().Set(id, sink)
}

// DeleteIdentifiedSink forgets id.
func (s *Stage[T]) DeleteIdentifiedSink(id string) {
	s.Registry().Delete(id)
}

// Dispatch sends item to every plain output. Bounded outputs apply backpressure.
func (s *Stage[T]) Dispatch(item T) {
	s.mu.RLock()
	outs := s.outs
	s.mu.RUnlock()
	for _, q := range outs {
		q.Put(item)
	}
}

// Put sends item to the sink identified by id. Unknown ids are logged and
// reported as false; the conversation may already be torn down.
func (s *Stage[T]) Put(item T, id string) bool {
	if !s.Registry().Put(id, item) {
		s.logger.Debug("dropping item for unknown sink", "id", id)
		return false
	}
	return true
}

// Consume waits up to PollTimeout for the next intake item.
func (s *Stage[T]) Consume() (item T, ok bool) {
	in := s.Intake()
	if in == nil {
		time.Sleep(PollTimeout)
		return item, false
	}
	return in.Get(PollTimeout)
}

// OnIdle sets a function the loop calls whenever a poll times out.
func (s *Stage[T]) OnIdle(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = f
}

// Loop starts the stage goroutine, handing every consumed item to handle.
// A panic while handling one item is logged and the loop continues.
func (s *Stage[T]) Loop(handle func(item T)) error {
	return s.Run(func() {
		s.logger.Debug("stage started")
		for s.Running() {
			item, ok := s.Consume()
			if !ok {
				s.mu.RLock()
				idle := s.idle
				s.mu.RUnlock()
				if idle != nil {
					idle()
				}
				continue
			}
			s.safely(handle, item)
		}
		s.logger.Info("stage stopped")
	})
}

func (s *Stage[T]) safely(handle func(item T), item T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stage item panicked", "panic", r)
		}
	}()
	t0 := time.Now()
	handle(item)
	s.logger.Debug("item processed", "elapsed", time.Since(t0))
}

func (s *Stage[T]) addOutput(q *Queue[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outs = append(s.outs, q)
}

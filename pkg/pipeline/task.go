// Package pipeline provides the long-running stage primitives the brain is
// built from: tasks, queues, stages, identified sinks, the keep-alive set and
// a bounded worker pool.
//
// Every blocking read polls with PollTimeout so Stop is observed promptly
// without threading a context through each stage loop.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// PollTimeout bounds every blocking queue read inside a stage loop.
const PollTimeout = 100 * time.Millisecond

// ErrAlreadyRunning is returned when starting a task twice.
var ErrAlreadyRunning = errors.New("pipeline: task already running")

// Runner is anything with a task lifecycle.
type Runner interface {
	Start() error
	Stop()
	Join()
}

// Task is a cancellable loop with an explicit running flag.
type Task struct {
	running atomic.Bool
	mu      sync.Mutex
	done    chan struct{}
}

// Run sets the running flag and launches loop in its own goroutine.
// The loop must return soon after Running reports false.
func (t *Task) Run(loop func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running.Load() {
		return ErrAlreadyRunning
	}
	t.running.Store(true)
	done := make(chan struct{})
	t.done = done
	go func() {
		defer close(done)
		loop()
	}()
	return nil
}

// Stop clears the running flag. It does not wait; see Join.
func (t *Task) Stop() {
	t.running.Store(false)
}

// Join waits for the loop to exit.
func (t *Task) Join() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the loop should keep going.
func (t *Task) Running() bool {
	return t.running.Load()
}

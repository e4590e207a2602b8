// Package scheduler runs reminders at a given time or on a cron schedule.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// MisfireGrace is how late a one-shot task may still run.
const MisfireGrace = 5 * time.Minute

var (
	// ErrStopped is returned when scheduling on a stopped scheduler.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrMisfire is returned for a run time older than MisfireGrace.
	ErrMisfire = errors.New("scheduler: run time too far in the past")
	// ErrInvalidCron is returned for an unparsable cron expression.
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")
)

// Scheduler owns a set of timers. The zero value is not usable; call New.
type Scheduler struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
	wg      sync.WaitGroup
}

// task is one scheduled entry. Its pointer identifies the registration, so
// a cancelled id never comes back through a callback already in flight.
type task struct {
	timer *time.Timer
}

// New creates a running scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		tasks:  make(map[string]*task),
	}
}

// At runs fn once at runAt and returns the task id. A run time in the
// past within MisfireGrace runs immediately.
func (s *Scheduler) At(runAt time.Time, fn func()) (string, error) {
	delay := runAt.Sub(s.now())
	if delay < -MisfireGrace {
		return "", fmt.Errorf("%w: %s", ErrMisfire, runAt.Format(time.RFC3339))
	}
	if delay < 0 {
		delay = 0
	}

	id := uuid.New().String()
	t := &task{}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrStopped
	}
	s.tasks[id] = t
	t.timer = time.AfterFunc(delay, func() {
		if s.begin(id, t, true) {
			s.run(id, fn)
		}
	})
	s.logger.Debug("task scheduled", "id", id, "run_at", runAt)
	return id, nil
}

// Every runs fn on each tick of the cron expression until cancelled.
func (s *Scheduler) Every(expr string, fn func()) (string, error) {
	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	id := uuid.New().String()
	t := &task{}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	s.tasks[id] = t
	s.mu.Unlock()

	if err := s.arm(id, t, expr, fn); err != nil {
		s.Cancel(id)
		return "", err
	}
	s.logger.Debug("repeated task scheduled", "id", id, "cron", expr)
	return id, nil
}

// arm sets the timer for the next tick of expr, unless t was cancelled.
func (s *Scheduler) arm(id string, t *task, expr string, fn func()) error {
	next, err := gronx.NextTickAfter(expr, s.now(), false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.tasks[id] != t {
		return nil
	}
	t.timer = time.AfterFunc(time.Until(next), func() {
		if !s.begin(id, t, false) {
			return
		}
		s.run(id, fn)
		if err := s.arm(id, t, expr, fn); err != nil && !errors.Is(err, ErrStopped) {
			s.logger.Error("rescheduling failed", "id", id, "error", err)
		}
	})
	return nil
}

// begin reports whether t is still registered under id and, if so, counts
// the run before Stop can wait on it. once removes the registration.
func (s *Scheduler) begin(id string, t *task, once bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.tasks[id] != t {
		return false
	}
	if once {
		delete(s.tasks, id)
	}
	s.wg.Add(1)
	return true
}

// run executes fn for a run counted by begin.
func (s *Scheduler) run(id string, fn func()) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "id", id, "panic", r)
		}
	}()
	fn()
}

// Cancel stops task id. It reports whether the task was pending. A run
// already in progress finishes but is not rescheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(s.tasks, id)
	return true
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and waits for running ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

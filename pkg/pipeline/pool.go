package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("pipeline: pool closed")

// Pool runs submitted jobs on a fixed number of workers.
// Submit blocks while every worker is busy.
type Pool struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool starts workers goroutines.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{jobs: make(chan func()), done: make(chan struct{}), logger: logger}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit hands job to the next free worker. It gives up when ctx ends or
// the pool closes.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for running ones. Submitters blocked
// on a busy pool return ErrPoolClosed.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool job panicked", "panic", r)
		}
	}()
	job()
}

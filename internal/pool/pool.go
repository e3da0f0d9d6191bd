// Package pool runs jobs on a fixed set of worker goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Errors
var (
	ErrInvalidSize = errors.New("pool size must be >= 1")
	ErrClosed      = errors.New("pool is shut down")
)

// Job is a unit of work executed by a worker.
type Job func()

// Pool is a fixed-size worker pool. Jobs queue until a worker is free.
type Pool struct {
	logger *slog.Logger
	size   int

	jobs chan Job
	g    errgroup.Group

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts size workers.
func New(size int, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidSize, size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		logger: logger,
		size:   size,
		jobs:   make(chan Job, size),
		done:   make(chan struct{}),
	}

	for id := 0; id < size; id++ {
		id := id
		p.g.Go(func() error {
			p.work(id)
			return nil
		})
	}

	go func() {
		p.g.Wait()
		close(p.done)
	}()

	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Execute queues job for the next available worker. It blocks while the
// queue is full and returns ErrClosed once Shutdown has been called.
func (p *Pool) Execute(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	p.jobs <- job
	return nil
}

// Shutdown stops accepting jobs and waits for the workers to finish the
// queued ones, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
		p.logger.Debug("sent terminate to all workers", "workers", p.size)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.logger.Debug("all workers stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	for job := range p.jobs {
		p.logger.Debug("worker got a job", "worker", id)
		p.run(id, job)
	}
	p.logger.Debug("worker terminated", "worker", id)
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "worker", id, "panic", r)
		}
	}()
	job()
}

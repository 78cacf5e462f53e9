package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/PancyStudios/ClashBotGo/pkg/errors"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool runs submitted jobs on a fixed number of workers. Handlers use it for
// CPU-heavy work such as building war summaries.
type Pool struct {
	jobs   chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{jobs: make(chan job)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.done <- p.run(j)
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			apperrors.HandleRecovered(r)
			err = fmt.Errorf("panic en worker: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Submit runs fn on a worker and waits for its result
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers after the running jobs finish
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

package concurrency

import (
	"context"
	"sync"
)

type WorkerFn func(ctx context.Context, index int)

// SimpleWorkerPool runs fn on `concurrency` goroutines and waits for all of
// them.
func SimpleWorkerPool(ctx context.Context, concurrency int, fn WorkerFn) {
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			fn(ctx, idx)
		}(i)
	}
	wg.Wait()
}

type Task func(ctx context.Context)

// Pool is a fixed set of workers fed through a bounded queue. Submit blocks
// while the queue is full; after Close it rejects new work.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
}

func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan Task, queueSize),
		ctx:   ctx,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				t(p.ctx)
			}
		}()
	}
	return p
}

func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- t
	return true
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// Package scheduler runs the per-user polling loops on a bounded worker
// pool and owns their lifecycle.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Pool is a bounded worker pool with a bounded queue. When both are
// saturated, Submit runs the task on the calling goroutine so work is never
// dropped under overload.
type Pool struct {
	core      int
	max       int
	keepalive time.Duration

	tasks chan func()

	mu      sync.Mutex
	workers int
	closed  bool

	wg sync.WaitGroup
}

func NewPool(core, max, queueCap int, keepalive time.Duration) *Pool {
	if core < 1 {
		core = 1
	}
	if max < core {
		max = core
	}
	if queueCap < 0 {
		queueCap = 0
	}
	return &Pool{
		core:      core,
		max:       max,
		keepalive: keepalive,
		tasks:     make(chan func(), queueCap),
	}
}

// Submit schedules the task. Returns true if it was handed to the pool,
// false if it ran synchronously on the caller (pool and queue saturated).
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		task()
		return false
	}
	if p.workers < p.core {
		p.workers++
		p.wg.Add(1)
		p.mu.Unlock()
		go p.coreWorker(task)
		return true
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return true
	default:
	}

	p.mu.Lock()
	if !p.closed && p.workers < p.max {
		p.workers++
		p.wg.Add(1)
		p.mu.Unlock()
		go p.extraWorker(task)
		return true
	}
	p.mu.Unlock()

	// Caller-runs fallback.
	task()
	return false
}

func (p *Pool) coreWorker(first func()) {
	defer p.exit()
	first()
	for task := range p.tasks {
		task()
	}
}

// extraWorker exits after keepalive of idleness, shrinking back to core.
func (p *Pool) extraWorker(first func()) {
	defer p.exit()
	first()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		case <-time.After(p.keepalive):
			return
		}
	}
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
	p.wg.Done()
}

// Workers reports the current worker count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Shutdown stops accepting work and waits for running tasks until ctx
// expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

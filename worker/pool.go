// Package worker runs tasks on a fixed set of goroutines.
//
// A Pool is built once in main, started with a worker count and handed to the
// components that need to defer work:
//
//	pool := worker.NewPool()
//	if err := pool.Start(10); err != nil {
//		...
//	}
//	defer pool.Shutdown()
//
//	_ = pool.PostTask(func() { ... })
package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/treemana/godns/log"
)

var (
	ErrNotInitialized = errors.New("pool is not initialized")
	ErrAlreadyStarted = errors.New("pool already started")
	ErrInvalidSize    = errors.New("invalid pool size")
)

type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	next    int // round robin cursor
	stopped bool
}

func NewPool() *Pool {
	return &Pool{}
}

func (p *Pool) Start(n int) error {
	if n <= 0 {
		return fmt.Errorf("size=%d error=[%w]", n, ErrInvalidSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workers != nil || p.stopped {
		return ErrAlreadyStarted
	}

	p.workers = make([]*Worker, n)
	for i := range p.workers {
		p.workers[i] = NewWorker(i)
	}

	log.Sugar.Infof("pool started with %d workers", n)
	return nil
}

// PostTask hands fn to the next worker in turn. Without a running pool the
// task is dropped and an error is logged and returned.
func (p *Pool) PostTask(fn func()) error {
	p.mu.Lock()
	if p.workers == nil {
		p.mu.Unlock()
		log.Sugar.Error("pool post task error=[pool is not initialized]")
		return ErrNotInitialized
	}
	if p.stopped {
		p.mu.Unlock()
		log.Sugar.Warn("pool post task after shutdown")
		return ErrStopped
	}
	w := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	p.mu.Unlock()

	return w.Post(fn)
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Shutdown lets every worker finish what was posted before it and waits for
// them. Safe to call more than once, and on a pool that never started.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped || p.workers == nil {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	workers := p.workers
	p.mu.Unlock()

	log.Sugar.Info("pool stopping")
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.Wait()
	}
	log.Sugar.Info("pool stopped")
}

// PostSequenced runs produce on a worker, then posts consume with its result as
// a separate task.
func PostSequenced[T any](p *Pool, produce func() T, consume func(T)) error {
	return p.PostTask(func() {
		v := produce()
		if err := p.PostTask(func() { consume(v) }); err != nil {
			log.Sugar.Warnf("pool sequenced task dropped error=[%+v]", err)
		}
	})
}

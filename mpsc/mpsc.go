// Package mpsc is an unbounded multiple-producer single-consumer FIFO queue.
//
//	tx, rx := mpsc.New[int]()
//
//	// tx may be shared by any number of goroutines
//	tx.Send(123)
//	go tx.Send(456)
//
//	a := rx.Recv()
//	b := rx.Recv()
//
//	// only two values were sent, so this blocks until a third one arrives
//	c := rx.Recv()
//
// Send never blocks, which is what the receive loop and the cache rely on when
// they hand work to a worker.
package mpsc

import (
	"sync"
	"time"
)

type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	notify chan struct{} // capacity 1, holds a token while items may be pending
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Sender may be copied and used concurrently.
type Sender[T any] struct {
	q *queue[T]
}

// Receiver must be used by one goroutine at a time.
type Receiver[T any] struct {
	q *queue[T]
}

func New[T any]() (*Sender[T], *Receiver[T]) {
	q := &queue[T]{notify: make(chan struct{}, 1)}
	return &Sender[T]{q: q}, &Receiver[T]{q: q}
}

func (s *Sender[T]) Send(v T) {
	s.q.push(v)
}

// Recv blocks until a value is available.
func (r *Receiver[T]) Recv() T {
	for {
		if v, ok := r.q.pop(); ok {
			return v
		}
		<-r.q.notify
	}
}

// RecvTimeout is Recv bounded by d, ok is false when d elapsed first.
func (r *Receiver[T]) RecvTimeout(d time.Duration) (v T, ok bool) {
	if v, ok = r.q.pop(); ok {
		return v, true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-r.q.notify:
			if v, ok = r.q.pop(); ok {
				return v, true
			}
		case <-timer.C:
			// a value sent right at the deadline still counts
			return r.q.pop()
		}
	}
}

func (r *Receiver[T]) TryRecv() (T, bool) {
	return r.q.pop()
}

// Len reports the number of queued values.
func (r *Receiver[T]) Len() int {
	return r.q.len()
}

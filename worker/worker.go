package worker

import (
	"errors"
	"sync"

	"github.com/treemana/godns/log"
	"github.com/treemana/godns/mpsc"
)

var ErrStopped = errors.New("worker stopped")

// Task is either a function to run or the shutdown sentinel.
type Task struct {
	fn       func()
	shutdown bool
}

func NewTask(fn func()) Task { return Task{fn: fn} }

func ShutdownTask() Task { return Task{shutdown: true} }

func (t Task) IsShutdown() bool { return t.shutdown }

// Worker owns one goroutine that runs posted tasks one after another.
type Worker struct {
	mu   sync.Mutex
	tx   *mpsc.Sender[Task] // nil once stopped
	done chan struct{}
	id   int
}

func NewWorker(id int) *Worker {
	tx, rx := mpsc.New[Task]()
	w := &Worker{tx: tx, done: make(chan struct{}), id: id}
	go w.loop(rx)
	return w
}

func (w *Worker) loop(rx *mpsc.Receiver[Task]) {
	defer close(w.done)
	for {
		task := rx.Recv()
		if task.shutdown {
			log.Sugar.Debugf("worker %d shutdown, drained", w.id)
			return
		}
		w.run(task)
	}
}

func (w *Worker) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Sugar.Errorf("worker %d task panic=[%+v]", w.id, r)
		}
	}()

	if task.fn != nil {
		task.fn()
	}
}

func (w *Worker) Post(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil {
		return ErrStopped
	}
	w.tx.Send(NewTask(fn))
	return nil
}

// Stop queues the shutdown sentinel behind every task already posted. Later
// posts fail with ErrStopped. Safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil {
		return
	}
	w.tx.Send(ShutdownTask())
	w.tx = nil
}

// Wait blocks until the goroutine has exited, which requires Stop.
func (w *Worker) Wait() {
	<-w.done
}

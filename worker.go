package ipcpipe

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkerService is a FIFO task queue drained on whatever goroutine calls
// RunOne or RunLoop. It is the Go translation of the teacher's ancestor
// worker_service.hpp: a mutex, a condition variable, a deque, and a quit
// flag, re-expressed with sync.Cond in place of std::condition_variable.
//
// Its purpose in this module is to let Channel.Send and MessageService
// schedule work (a send_pump or receive_pump attempt) onto the single
// reactor thread without that caller blocking or touching reactor-owned
// state directly.
//
// Standalone (BindReactor never called), Dispatch wakes a dedicated
// goroutine blocked in RunLoop's condition variable, matching
// worker_service.hpp directly. Bound to a Reactor (MessageService's usage),
// Dispatch instead posts a wakeup completion through the Reactor (spec
// §4.A: "B, in turn, posts a wakeup through A") and tasks drain inline from
// HandleCompletion, on whatever single goroutine is running the Reactor's
// WaitOne/RunLoop. The bound mode is what makes spec §5's "pending is
// written only by the reactor thread" literally true: Channel's
// send_pump/receive_pump and PipeEndpoint's completion handling then run on
// the same goroutine instead of racing across two.
type WorkerService struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	quit   bool
	logger logrus.FieldLogger

	reactor *Reactor
	wakeKey HandlerKey
	bound   bool
}

// NewWorkerService constructs a WorkerService. A nil logger falls back to
// logrus.StandardLogger().
func NewWorkerService(logger logrus.FieldLogger) *WorkerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := &WorkerService{logger: logger}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// BindReactor registers this WorkerService as a Handler with reactor, so
// subsequent Dispatch calls wake the reactor thread through Post instead of
// signaling a standalone goroutine's condition variable. Once bound, tasks
// only ever run from inside reactor.WaitOne/RunLoop, on the same goroutine
// that delivers every other completion — see the WorkerService doc comment.
func (w *WorkerService) BindReactor(reactor *Reactor) error {
	key, err := reactor.RegisterHandler(w)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.reactor = reactor
	w.wakeKey = key
	w.bound = true
	w.mu.Unlock()
	return nil
}

// Dispatch appends task to the tail of the FIFO and wakes a waiter: the
// reactor thread (if BindReactor was called) or a standalone RunLoop
// goroutine otherwise.
func (w *WorkerService) Dispatch(task func()) {
	w.mu.Lock()
	if w.quit {
		w.mu.Unlock()
		return
	}
	w.tasks = append(w.tasks, task)
	bound := w.bound
	reactor := w.reactor
	key := w.wakeKey
	w.mu.Unlock()

	if bound {
		reactor.Post(key)
		return
	}
	w.cond.Signal()
}

// Future is a one-shot value channel returned by PackagedDispatch.
type Future[T any] struct {
	ch chan T
}

// Wait blocks until the dispatched task finishes and returns its result.
func (f *Future[T]) Wait() T { return <-f.ch }

// PackagedDispatch dispatches fn and returns a Future that becomes ready
// once fn has run to completion on a worker-draining goroutine.
func PackagedDispatch[T any](w *WorkerService, fn func() T) *Future[T] {
	fut := &Future[T]{ch: make(chan T, 1)}
	w.Dispatch(func() {
		fut.ch <- fn()
	})
	return fut
}

// RunOne drains the queue until empty or quit, running each task on the
// calling goroutine. A task that panics is recovered and logged; the queue
// remains usable afterwards (spec §4.B: the queue must survive a panicking
// task if the worker is kept alive).
func (w *WorkerService) RunOne() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drainLocked()
}

// RunLoop blocks until a task is available or Quit is called, repeatedly
// draining the queue, until Quit is observed.
func (w *WorkerService) RunLoop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.quit {
		for len(w.tasks) == 0 && !w.quit {
			w.cond.Wait()
		}
		w.drainLocked()
	}
}

// drainLocked runs tasks with the lock released around each call, mirroring
// worker_service::do_work's unlock/lock straddle so Dispatch never blocks
// behind a long-running task.
func (w *WorkerService) drainLocked() {
	for len(w.tasks) > 0 && !w.quit {
		task := w.tasks[0]
		w.tasks = w.tasks[1:]
		w.mu.Unlock()
		w.runProtected(task)
		w.mu.Lock()
	}
}

func (w *WorkerService) runProtected(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("ipcpipe: worker task panicked, queue remains usable")
		}
	}()
	task()
}

// Quit sets the quit flag and wakes every waiter. Idempotent.
func (w *WorkerService) Quit() {
	w.mu.Lock()
	w.quit = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

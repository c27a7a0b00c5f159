//go:build windows

package ipcpipe

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/pipeworks/go-ipcpipe/internal/slab"
)

// HandlerKey is the stable, generation-tagged identity a Reactor hands back
// from Register/RegisterHandler, used to correlate a completion with its
// Handler instead of reinterpret-casting a raw completion-key back into a
// pointer (spec §9).
type HandlerKey = slab.Token

// Handler receives completions for operations it submitted through this
// Reactor. ov is the exact *windows.Overlapped pointer the handler itself
// passed to ConnectNamedPipe/ReadFile/WriteFile; a Handler recovers which of
// its own pinned submission slots completed by pointer identity against ov,
// never by reinterpreting ov's type (see PipeEndpoint.HandleCompletion).
// Implementations must not block: HandleCompletion runs on the reactor
// thread.
type Handler interface {
	HandleCompletion(ov *windows.Overlapped, n int, err error)
}

// Reactor multiplexes completions of outstanding overlapped I/O through a
// single Windows I/O completion port (spec §4.A). Grounded on the original
// source's io_completion_port/io_completion_service
// (GetQueued/PostQueuedCompletionStatus around one handle), re-architected
// per spec §9 with a slab.Token completion key in place of the original's
// ULONG_PTR-to-pointer cast.
type Reactor struct {
	port     windows.Handle
	handlers *slab.Slab[Handler]
	closed   atomic.Bool
	quitOnce sync.Once
	log      logrus.FieldLogger
}

// NewReactor creates the underlying completion port.
func NewReactor(logger logrus.FieldLogger) (*Reactor, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, wrap(err, "ipcpipe: create io completion port")
	}
	return &Reactor{
		port:     port,
		handlers: slab.New[Handler](),
		log:      logger,
	}, nil
}

// Register associates handle with this reactor under a freshly issued
// HandlerKey; future completions on handle resolve back to h.
func (r *Reactor) Register(handle windows.Handle, h Handler) (HandlerKey, error) {
	if r.closed.Load() {
		return HandlerKey{}, ErrReactorClosed
	}
	tok := r.handlers.Insert(h)
	if _, err := windows.CreateIoCompletionPort(handle, r.port, tok.Pack(), 0); err != nil {
		r.handlers.Remove(tok)
		return HandlerKey{}, wrap(err, "ipcpipe: associate handle with completion port")
	}
	return tok, nil
}

// RegisterHandler registers h without associating any OS handle, for
// handlers only ever targeted via Post (WorkerService's wakeup).
func (r *Reactor) RegisterHandler(h Handler) (HandlerKey, error) {
	if r.closed.Load() {
		return HandlerKey{}, ErrReactorClosed
	}
	return r.handlers.Insert(h), nil
}

// Unregister removes a previously registered handler. It does not close any
// OS handle.
func (r *Reactor) Unregister(key HandlerKey) {
	r.handlers.Remove(key)
}

// Post enqueues a synthetic completion, used by WorkerService to wake the
// reactor thread (spec §4.A/§4.B).
func (r *Reactor) Post(key HandlerKey) {
	if r.closed.Load() {
		return
	}
	windows.PostQueuedCompletionStatus(r.port, 0, key.Pack(), nil) //nolint:errcheck
}

// quitToken is the never-issued zero Token (slab index 0 is reserved),
// distinguishable from any real handler key without a table lookup.
var quitToken HandlerKey

// Shutdown causes all current and future RunLoop/WaitOne calls to return a
// terminal signal, and makes further Register calls fail. Safe to call from
// any thread; idempotent (testable property 7).
func (r *Reactor) Shutdown() {
	r.quitOnce.Do(func() {
		r.closed.Store(true)
		windows.PostQueuedCompletionStatus(r.port, 0, quitToken.Pack(), nil) //nolint:errcheck
	})
}

// WaitOne blocks until one completion is available or the reactor shuts
// down, then dispatches it to the resolved Handler. It returns false once
// Shutdown has been observed.
func (r *Reactor) WaitOne(timeoutMillis uint32) bool {
	if r.closed.Load() {
		return false
	}

	var bytes uint32
	var key uintptr
	var ov *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(r.port, &bytes, &key, &ov, timeoutMillis)

	if r.closed.Load() {
		return false
	}
	if err == windows.WAIT_TIMEOUT { //nolint:errorlint // err is Errno
		return true
	}

	tok := slab.Unpack(key)
	if tok == quitToken {
		return false
	}

	handler, ok := r.handlers.Get(tok)
	if !ok {
		// A completion for a handler already unregistered (e.g. a racing
		// Close); nothing left to deliver it to.
		return true
	}

	var opErr error
	if err != nil {
		opErr = err
	}
	handler.HandleCompletion(ov, int(bytes), opErr)
	return true
}

// RunLoop repeatedly calls WaitOne until it returns false (Shutdown
// observed), matching io_completion_service::run_loop.
func (r *Reactor) RunLoop() {
	for r.WaitOne(windows.INFINITE) {
	}
}

//go:build !windows

package ipcpipe

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/pipeworks/go-ipcpipe/internal/slab"
)

// HandlerKey is the stable, generation-tagged identity a Reactor hands back
// from Register/RegisterHandler. Same role as the Windows build's HandlerKey;
// kept as a distinct type here since there is no OS completion key to pack
// it into, only an internal channel message.
type HandlerKey = slab.Token

// Handler receives wakeups posted to it through a Reactor. The portable
// build has no OS-level overlapped I/O, so completions are plain function
// calls dispatched from whichever goroutine performed the blocking syscall;
// HandleCompletion's ov parameter is always nil here.
type Handler interface {
	HandleCompletion(ov *struct{}, n int, err error)
}

// completionResolver lets a portable endpoint resolve a completion directly
// against the OperationContext it was issued for, since there is no OS
// overlap pointer to recover identity from the way the Windows build does.
type completionResolver interface {
	resolveCompletion(ctx *OperationContext, n int, err error)
}

type completion struct {
	key      HandlerKey
	n        int
	err      error
	ov       *struct{}
	resolver completionResolver
	ctx      *OperationContext
}

// Reactor is the portable stand-in for the Windows IOCP-backed Reactor,
// backed by a buffered Go channel acting as a synthetic completion queue
// (spec §9's redesign applies equally here: a slab.Token, never a raw
// pointer, identifies the handler). Used on non-Windows hosts per spec §6's
// suggestion that the channel/framing layers are not themselves
// Windows-specific.
type Reactor struct {
	queue    chan completion
	handlers *slab.Slab[Handler]
	closed   atomic.Bool
	quitOnce sync.Once
	log      logrus.FieldLogger
}

// NewReactor constructs a portable Reactor.
func NewReactor(logger logrus.FieldLogger) (*Reactor, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reactor{
		queue:    make(chan completion, 64),
		handlers: slab.New[Handler](),
		log:      logger,
	}, nil
}

// Register associates h with a freshly issued HandlerKey; on the portable
// build there is no OS handle to associate, so it is the same as
// RegisterHandler. The portable endpoint calls RegisterHandler once at
// construction and passes the returned key to deliverResult.
func (r *Reactor) Register(h Handler) (HandlerKey, error) {
	return r.RegisterHandler(h)
}

// RegisterHandler registers h, mirroring the Windows build's handle-less
// registration path (used there for WorkerService's wakeup handler).
func (r *Reactor) RegisterHandler(h Handler) (HandlerKey, error) {
	if r.closed.Load() {
		return HandlerKey{}, ErrReactorClosed
	}
	return r.handlers.Insert(h), nil
}

// Unregister removes a previously registered handler.
func (r *Reactor) Unregister(key HandlerKey) {
	r.handlers.Remove(key)
}

// Post enqueues a zero-value wakeup completion for key, used by
// WorkerService to wake the reactor thread.
func (r *Reactor) Post(key HandlerKey) {
	r.deliver(completion{key: key})
}

// deliverResult enqueues a resolved completion: ctx is the exact
// OperationContext the background goroutine performed I/O on behalf of.
// Called by the portable PipeEndpoint once a blocking syscall returns.
func (r *Reactor) deliverResult(key HandlerKey, resolver completionResolver, ctx *OperationContext, n int, err error) {
	r.deliver(completion{key: key, resolver: resolver, ctx: ctx, n: n, err: err})
}

func (r *Reactor) deliver(c completion) {
	if r.closed.Load() {
		return
	}
	select {
	case r.queue <- c:
	default:
		// The portable queue is a convenience, not a hard backpressure
		// boundary; block rather than drop so a burst never silently loses
		// a completion.
		r.queueBlocking(c)
	}
}

func (r *Reactor) queueBlocking(c completion) {
	if r.closed.Load() {
		return
	}
	r.queue <- c
}

var quitToken HandlerKey

// Shutdown causes all current and future RunLoop/WaitOne calls to return,
// and makes further Register calls fail. Idempotent.
func (r *Reactor) Shutdown() {
	r.quitOnce.Do(func() {
		r.closed.Store(true)
		r.queue <- completion{key: quitToken}
	})
}

// WaitOne blocks until one completion is available or the reactor shuts
// down, then dispatches it. It returns false once Shutdown has been
// observed.
func (r *Reactor) WaitOne() bool {
	if r.closed.Load() {
		return false
	}
	c := <-r.queue
	if c.key == quitToken {
		return false
	}
	if c.resolver != nil {
		c.resolver.resolveCompletion(c.ctx, c.n, c.err)
		return true
	}
	handler, ok := r.handlers.Get(c.key)
	if !ok {
		return true
	}
	handler.HandleCompletion(c.ov, c.n, c.err)
	return true
}

// RunLoop repeatedly calls WaitOne until it returns false.
func (r *Reactor) RunLoop() {
	for r.WaitOne() {
	}
}

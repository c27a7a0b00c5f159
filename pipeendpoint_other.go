//go:build !windows

package ipcpipe

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PipeEndpoint is the portable realization of Endpoint for non-Windows
// hosts, backed by a Unix domain socket in SOCK_STREAM mode (spec §6 notes
// the named-pipe transport is Windows-specific; this repo's Channel/frame
// layers only ever see the Endpoint interface, so this build substitutes
// net.UnixConn without those layers knowing). Submission mirrors the
// Windows build's contract: SubmitRead/SubmitWrite/SubmitConnect each queue
// exactly one goroutine that performs the blocking syscall and reports the
// result back through the owning Reactor, never invoking the callback
// directly. The one exception is SubmitConnect on an already-connected
// endpoint, which invokes the callback synchronously.
type PipeEndpoint struct {
	conn    *net.UnixConn
	ln      *net.UnixListener
	reactor *Reactor
	key     HandlerKey
	cfg     PipeConfig
	log     logrus.FieldLogger

	connected atomic.Bool
	closeOnce sync.Once

	mu sync.Mutex
}

var _ Endpoint = (*PipeEndpoint)(nil)
var _ Handler = (*PipeEndpoint)(nil)
var _ completionResolver = (*PipeEndpoint)(nil)

// NewServerPipeEndpoint listens on a Unix domain socket at name (first is
// accepted for call-site symmetry with the Windows build and otherwise
// unused; there is no multi-instance distinction for a listening socket).
func NewServerPipeEndpoint(reactor *Reactor, name string, cfg PipeConfig, first bool, logger logrus.FieldLogger) (*PipeEndpoint, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()

	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return nil, wrapf(err, "ipcpipe: resolve socket path %q", name)
	}
	os.Remove(name) //nolint:errcheck
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, wrapf(err, "ipcpipe: listen on %q", name)
	}

	p := &PipeEndpoint{ln: ln, cfg: cfg, log: logger}
	key, err := reactor.RegisterHandler(p)
	if err != nil {
		ln.Close() //nolint:errcheck
		return nil, err
	}
	p.reactor = reactor
	p.key = key
	return p, nil
}

// NewClientPipeEndpoint dials name as a client, busy-waiting against
// connection-refused the way the Windows build busy-waits against
// ERROR_PIPE_BUSY, bounded by cfg.BusyWaitTimeout.
func NewClientPipeEndpoint(reactor *Reactor, name string, cfg PipeConfig, logger logrus.FieldLogger) (*PipeEndpoint, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()

	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return nil, wrapf(err, "ipcpipe: resolve socket path %q", name)
	}

	deadline := time.Now().Add(cfg.BusyWaitTimeout)
	var conn *net.UnixConn
	for {
		conn, err = net.DialUnix("unix", nil, addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}

	p := &PipeEndpoint{conn: conn, cfg: cfg, log: logger}
	key, err := reactor.RegisterHandler(p)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}
	p.reactor = reactor
	p.key = key
	p.connected.Store(true)
	return p, nil
}

// SubmitConnect accepts one connection (server side) or fires synchronously
// (client side, already connected at construction).
func (p *PipeEndpoint) SubmitConnect(ctx *OperationContext) {
	if p.connected.Load() {
		ctx.pending = false
		if ctx.Callback != nil {
			ctx.Callback(ctx, 0, nil)
		}
		return
	}

	ctx.Kind = OpConnect
	ctx.pending = true
	go func() {
		conn, err := p.ln.AcceptUnix()
		if err != nil {
			p.reactor.deliverResult(p.key, p, ctx, 0, wrap(err, "ipcpipe: accept unix socket"))
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.connected.Store(true)
		p.reactor.deliverResult(p.key, p, ctx, 0, nil)
	}()
}

// SubmitRead grows ctx.Buffer by DefaultReadChunk past ctx.Offset and reads
// into the new tail on a background goroutine.
func (p *PipeEndpoint) SubmitRead(ctx *OperationContext) {
	ctx.Kind = OpRead
	needed := ctx.Offset + DefaultReadChunk
	if cap(ctx.Buffer) < needed {
		grown := make([]byte, len(ctx.Buffer), needed)
		copy(grown, ctx.Buffer)
		ctx.Buffer = grown
	}
	ctx.Buffer = ctx.Buffer[:needed]
	ctx.pending = true

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	go func() {
		n, err := conn.Read(ctx.Buffer[ctx.Offset:needed])
		p.reactor.deliverResult(p.key, p, ctx, n, err)
	}()
}

// SubmitWrite writes the entirety of ctx.Buffer on a background goroutine.
func (p *PipeEndpoint) SubmitWrite(ctx *OperationContext) {
	ctx.Kind = OpWrite
	ctx.pending = true

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	go func() {
		n, err := conn.Write(ctx.Buffer)
		p.reactor.deliverResult(p.key, p, ctx, n, err)
	}()
}

// HandleCompletion implements Handler so PipeEndpoint can be registered via
// RegisterHandler. It is never actually invoked: every completion this
// endpoint produces carries a completionResolver (itself), so the Reactor
// resolves through resolveCompletion instead (see SubmitRead/SubmitWrite/
// SubmitConnect).
func (p *PipeEndpoint) HandleCompletion(_ *struct{}, n int, err error) {}

// resolveCompletion mirrors the Windows build's HandleCompletion: classify
// the error, update Offset on a successful read, and invoke the callback
// exactly once.
func (p *PipeEndpoint) resolveCompletion(ctx *OperationContext, n int, err error) {
	ctx.pending = false

	if err != nil {
		p.deliverBroken(ctx, classifyIOError(err))
		return
	}

	switch ctx.Kind {
	case OpConnect:
		if ctx.Callback != nil {
			ctx.Callback(ctx, n, nil)
		}
	case OpRead:
		if n == 0 {
			p.deliverBroken(ctx, ErrPeerClosed)
			return
		}
		ctx.Offset += n
		ctx.Buffer = ctx.Buffer[:ctx.Offset]
		if ctx.Callback != nil {
			ctx.Callback(ctx, n, nil)
		}
	case OpWrite:
		if ctx.Callback != nil {
			ctx.Callback(ctx, n, nil)
		}
	}
}

func (p *PipeEndpoint) deliverBroken(ctx *OperationContext, err error) {
	ctx.Kind = OpBroken
	if ctx.Callback != nil {
		ctx.Callback(ctx, 0, err)
	}
}

// classifyIOError maps net.OpError/io.EOF conditions onto ErrPeerClosed, the
// same sentinel the Windows build surfaces for an equivalent condition, so
// Channel code can be written once against Endpoint without a per-platform
// error-classification branch.
func classifyIOError(err error) error {
	if err == io.EOF { //nolint:errorlint
		return ErrPeerClosed
	}
	if ne, ok := err.(*net.OpError); ok && !ne.Timeout() {
		return ErrPeerClosed
	}
	return err
}

// Cancel closes the underlying connection/listener, which unblocks any
// in-flight Read/Write/Accept with an error; each surfaces as exactly one
// Broken completion through the normal path.
func (p *PipeEndpoint) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close() //nolint:errcheck
	}
	if p.ln != nil {
		p.ln.Close() //nolint:errcheck
	}
}

// Close cancels pending operations and releases the socket/listener.
// Idempotent.
func (p *PipeEndpoint) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.Cancel()
		if p.reactor != nil {
			p.reactor.Unregister(p.key)
		}
	})
	return closeErr
}

// Connected reports the monotonic false->true connection flag.
func (p *PipeEndpoint) Connected() bool { return p.connected.Load() }

// CloseWrite half-closes the socket's send side, the portable equivalent of
// the Windows build's zero-byte message-mode write (spec §4.C's zero-byte
// read is how the peer observes either). net.UnixConn supports this
// natively, unlike MessageMode on a named pipe, so there is no
// PipeConfig.MessageMode restriction here.
func (p *PipeEndpoint) CloseWrite() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return wrap(ErrProtocol, "ipcpipe: CloseWrite before connect")
	}
	return conn.CloseWrite()
}

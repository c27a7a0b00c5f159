package ipcpipe

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ChannelState is the observable state machine from spec §4.F/§3.
type ChannelState int32

const (
	StateNew ChannelState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelCallback receives the channel on every user-visible event: the
// connection being established, one or more messages becoming available,
// and the terminal closure notification. It MUST NOT block on channel I/O;
// it runs inline on whichever goroutine is draining the owning
// WorkerService (send_pump/receive_pump/connect completions all dispatch
// through it). The one exception is Channel.Close: called directly, it fires
// the closure notification on its caller's goroutine.
type ChannelCallback func(ch *Channel)

// Channel is one pipe instance plus framing, per-direction queues, and a
// user callback (spec §4.F), grounded on original_source's
// pipe_message_service (connect/receive/send/closed) re-expressed against
// the Endpoint interface instead of a concrete named_pipe.
type Channel struct {
	endpoint Endpoint
	worker   *WorkerService
	decoder  *frameDecoder
	log      logrus.FieldLogger

	id      uint64
	metrics *Metrics

	// afterConnect is an optional hook the owning MessageService installs on
	// server-role channels to auto-spawn the next listening instance (spec
	// §4.G). Left nil on client channels and on channels used without a
	// service.
	afterConnect func(ch *Channel)

	callback ChannelCallback

	state     atomic.Int32
	closeOnce sync.Once

	sendMu    sync.Mutex
	sendQueue []*Message

	recvMu    sync.Mutex
	recvQueue []*Message

	readCtx  *OperationContext
	writeCtx *OperationContext
}

// newChannel wires endpoint into a Channel. Scheduling the initial connect
// is the caller's responsibility (MessageService.CreateChannel dispatches
// it onto worker), matching spec §4.G's create_channel contract.
func newChannel(endpoint Endpoint, worker *WorkerService, cfg PipeConfig, cb ChannelCallback, logger logrus.FieldLogger) *Channel {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Channel{
		endpoint: endpoint,
		worker:   worker,
		decoder:  newFrameDecoder(cfg.MaxMessageSize),
		callback: cb,
		log:      logger,
	}
}

// State returns the current observable state.
func (c *Channel) State() ChannelState { return ChannelState(c.state.Load()) }

// ID is the identity MessageService keys its channel collection by.
func (c *Channel) ID() uint64 { return c.id }

// Send appends msg to the send FIFO under the send mutex and schedules a
// send_pump attempt on the worker. Per spec §9's Open Questions resolution,
// a Send issued while Connecting is buffered rather than rejected; it flows
// once the channel reaches Connected. A Send issued after Closed returns
// ErrClosed instead of silently discarding (the spec's documented
// alternative to silent discard).
func (c *Channel) Send(msg *Message) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	c.sendMu.Lock()
	c.sendQueue = append(c.sendQueue, msg)
	c.sendMu.Unlock()
	c.worker.Dispatch(c.sendPump)
	return nil
}

// Receive pops the head of the receive FIFO, or reports none available.
// Safe to call from any thread; per spec §7 a closed channel continues to
// serve Receive until its queue drains.
func (c *Channel) Receive() (*Message, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if len(c.recvQueue) == 0 {
		return nil, false
	}
	msg := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return msg, true
}

// Close cancels pending operations, releases the endpoint, and fires the
// closure notification exactly once. Idempotent (testable property 5).
func (c *Channel) Close() error {
	c.transitionClosed(nil)
	return nil
}

// beginConnect is dispatched onto the worker by MessageService.CreateChannel.
func (c *Channel) beginConnect() {
	if !c.state.CompareAndSwap(int32(StateNew), int32(StateConnecting)) {
		return
	}
	ctx := &OperationContext{Kind: OpConnect, Callback: c.onConnectComplete}
	c.endpoint.SubmitConnect(ctx)
}

func (c *Channel) onConnectComplete(_ *OperationContext, _ int, err error) {
	if err != nil {
		c.transitionClosed(err)
		return
	}
	c.state.Store(int32(StateConnected))
	c.fireCallback()
	if c.afterConnect != nil {
		c.afterConnect(c)
	}
	c.worker.Dispatch(c.sendPump)
	c.worker.Dispatch(c.receivePump)
}

// sendPump implements spec §4.F's send_pump, run on the worker thread.
func (c *Channel) sendPump() {
	if c.writeCtx != nil && c.writeCtx.Pending() {
		return
	}
	if c.State() != StateConnected {
		return
	}
	c.sendMu.Lock()
	if len(c.sendQueue) == 0 {
		c.sendMu.Unlock()
		return
	}
	msg := c.sendQueue[0]
	c.sendQueue = c.sendQueue[1:]
	c.sendMu.Unlock()

	ctx := &OperationContext{Kind: OpWrite, Buffer: msg.Bytes(), Callback: c.onWriteComplete}
	c.writeCtx = ctx
	c.endpoint.SubmitWrite(ctx)
}

func (c *Channel) onWriteComplete(_ *OperationContext, _ int, err error) {
	if err != nil {
		c.transitionClosed(err)
		return
	}
	if c.metrics != nil {
		c.metrics.messagesSent.Inc()
	}
	c.worker.Dispatch(c.sendPump)
}

// receivePump implements spec §4.F's receive_pump.
func (c *Channel) receivePump() {
	if c.readCtx != nil && c.readCtx.Pending() {
		return
	}
	if c.State() != StateConnected {
		return
	}
	if c.readCtx == nil {
		c.readCtx = &OperationContext{Kind: OpRead, Callback: c.onReadComplete}
	} else {
		c.readCtx.Offset = 0
		c.readCtx.Buffer = c.readCtx.Buffer[:0]
	}
	c.endpoint.SubmitRead(c.readCtx)
}

func (c *Channel) onReadComplete(ctx *OperationContext, _ int, err error) {
	if err != nil {
		c.transitionClosed(err)
		return
	}

	messages, protoErr := c.decoder.feed(ctx.Buffer[:ctx.Offset])
	if len(messages) > 0 {
		c.recvMu.Lock()
		c.recvQueue = append(c.recvQueue, messages...)
		c.recvMu.Unlock()
		if c.metrics != nil {
			c.metrics.messagesReceived.Add(float64(len(messages)))
		}
		c.fireCallback()
	}
	if protoErr != nil {
		if c.metrics != nil {
			c.metrics.protocolErrors.Inc()
		}
		c.transitionClosed(protoErr)
		return
	}
	c.worker.Dispatch(c.receivePump)
}

// transitionClosed moves the channel to Closed at most once, cancels the
// endpoint, and fires the closure notification exactly once (testable
// property 5). err is informational only (logged); the callback contract
// does not pass it along, since the user observes closure purely through
// State().
func (c *Channel) transitionClosed(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if cerr := c.endpoint.Close(); cerr != nil {
			c.log.WithError(cerr).Debug("ipcpipe: error closing endpoint during channel close")
		}
		if err != nil && err != ErrPeerClosed { //nolint:errorlint
			c.log.WithError(err).Debug("ipcpipe: channel closed")
		}
		if c.metrics != nil {
			c.metrics.channelsClosed.Inc()
		}
		c.fireCallback()
	})
}

func (c *Channel) fireCallback() {
	if c.callback != nil {
		c.callback(c)
	}
}

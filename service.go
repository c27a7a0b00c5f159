package ipcpipe

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Role selects which side of a pipe a MessageService opens (spec §4.G, §6).
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ServiceConfig is the recognized configuration surface from spec §6.
type ServiceConfig struct {
	PipeName string
	Role     Role
	Pipe     PipeConfig
}

// MessageService owns a Reactor, a WorkerService, and a collection of
// Channels keyed by identity (spec §4.G). Server-role services auto-spawn a
// fresh non-first-instance channel every time one transitions to
// Connected, so a listener is always pending.
type MessageService struct {
	reactor *Reactor
	worker  *WorkerService
	cfg     ServiceConfig
	log     logrus.FieldLogger

	mu       sync.Mutex
	channels map[uint64]*Channel
	nextID   atomic.Uint64

	firstInstanceCreated bool
	serverCallback       ChannelCallback

	metrics *Metrics
}

// NewMessageService constructs the reactor and worker but creates no
// channels; call CreateChannel (client) or Listen (server) to start one.
func NewMessageService(cfg ServiceConfig, logger logrus.FieldLogger) (*MessageService, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Pipe = cfg.Pipe.withDefaults()

	reactor, err := NewReactor(logger)
	if err != nil {
		return nil, err
	}
	worker := NewWorkerService(logger)
	if err := worker.BindReactor(reactor); err != nil {
		return nil, err
	}
	return &MessageService{
		reactor:  reactor,
		worker:   worker,
		cfg:      cfg,
		log:      logger,
		channels: make(map[uint64]*Channel),
		metrics:  newMetrics(),
	}, nil
}

// Listen is the server-role entry point. It creates the first (first
// pipe-instance) channel bound to cb, then brings the rest of the
// PipeConfig.QueueSize pool up to strength concurrently, the way the
// teacher's ListenPipe pre-creates QueueSize listening instances instead of
// waiting for each to be consumed one at a time. The fan-out is coordinated
// with an errgroup.Group rather than a raw sync.WaitGroup so a construction
// failure on any pre-warmed instance is reported back to the caller instead
// of silently vanishing (the first channel is still returned alongside that
// error and stays open); every subsequently auto-spawned instance (spec
// §4.G, one-for-one replacement on connect) reuses cb as its callback.
func (s *MessageService) Listen(cb ChannelCallback) (*Channel, error) {
	s.serverCallback = cb

	first, err := s.createChannel(cb)
	if err != nil {
		return nil, err
	}

	extra := int(s.cfg.Pipe.QueueSize) - 1
	if extra > 0 {
		var g errgroup.Group
		for i := 0; i < extra; i++ {
			g.Go(func() error {
				_, err := s.createChannel(cb)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return first, wrap(err, "ipcpipe: pre-warm listener-worker pool")
		}
	}

	return first, nil
}

// CreateChannel is the client-role entry point: it dials the configured
// pipe name, busy-waiting per spec §4.D/§6, and returns once the endpoint
// exists (the Channel itself still completes its handshake asynchronously
// through beginConnect).
func (s *MessageService) CreateChannel(cb ChannelCallback) (*Channel, error) {
	return s.createChannel(cb)
}

func (s *MessageService) createChannel(cb ChannelCallback) (*Channel, error) {
	var endpoint Endpoint
	var err error

	switch s.cfg.Role {
	case RoleClient:
		endpoint, err = NewClientPipeEndpoint(s.reactor, s.cfg.PipeName, s.cfg.Pipe, s.log)
	case RoleServer:
		s.mu.Lock()
		first := !s.firstInstanceCreated
		s.firstInstanceCreated = true
		s.mu.Unlock()
		endpoint, err = NewServerPipeEndpoint(s.reactor, s.cfg.PipeName, s.cfg.Pipe, first, s.log)
	}
	if err != nil {
		return nil, err
	}

	ch := newChannel(endpoint, s.worker, s.cfg.Pipe, cb, s.log)
	ch.metrics = s.metrics
	if s.cfg.Role == RoleServer {
		ch.afterConnect = s.onServerChannelConnected
	}
	ch.id = s.nextID.Add(1)

	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	s.metrics.channelsCreated.Inc()
	s.worker.Dispatch(ch.beginConnect)
	return ch, nil
}

// onServerChannelConnected is Channel.afterConnect for server-role
// channels: it spawns the next listening instance so a connect is always
// pending (spec §4.G). A failure here is logged, not fatal, and does not
// affect the channel that just connected.
func (s *MessageService) onServerChannelConnected(_ *Channel) {
	if _, err := s.createChannel(s.serverCallback); err != nil {
		s.log.WithError(err).Error("ipcpipe: failed to spawn next listening pipe instance")
	}
}

// CloseChannel removes id from the collection and closes its endpoint.
// Per spec §5 removals from the collection only ever happen on the loop
// thread (inserts may come from any goroutine), so the removal itself is
// dispatched onto the worker regardless of the caller's goroutine.
func (s *MessageService) CloseChannel(id uint64) {
	s.worker.Dispatch(func() {
		s.mu.Lock()
		ch, ok := s.channels[id]
		if ok {
			delete(s.channels, id)
		}
		s.mu.Unlock()
		if ok {
			ch.Close() //nolint:errcheck
		}
	})
}

// Run blocks the calling goroutine draining reactor completions until Quit
// is called. The worker is bound to this service's Reactor (see
// NewMessageService), so dispatched tasks (send_pump/receive_pump, channel
// removal) drain inline on this same goroutine rather than a second one —
// the single-reactor-thread model spec §5 describes, and the reason
// Channel's OperationContext.pending and buffer never need cross-goroutine
// synchronization.
func (s *MessageService) Run() {
	s.reactor.RunLoop()
}

// Quit stops the worker (so any standalone caller of WorkerService.RunLoop
// also observes it) and shuts down the reactor; Run returns once the
// reactor observes it.
func (s *MessageService) Quit() {
	s.worker.Quit()
	s.reactor.Shutdown()
}

// Reactor exposes the underlying Reactor, e.g. to register additional
// handlers alongside this service's channels.
func (s *MessageService) Reactor() *Reactor { return s.reactor }

// Worker exposes the underlying WorkerService.
func (s *MessageService) Worker() *WorkerService { return s.worker }

package ipcpipe

import "github.com/prometheus/client_golang/prometheus"

// Metrics is MessageService's optional instrumentation surface, wired
// through github.com/prometheus/client_golang the way a production
// deployment of this service would expose channel churn and throughput.
// Every MessageService owns its own Metrics with an unregistered
// prometheus.Registry, so multiple services in one process never collide
// on metric names; callers that want process-wide /metrics exposition
// register s.Metrics().Registry() with their own http.Handler.
type Metrics struct {
	registry *prometheus.Registry

	channelsCreated  prometheus.Counter
	channelsClosed   prometheus.Counter
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	protocolErrors   prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		channelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpipe_channels_created_total",
			Help: "Channels created by this MessageService, including auto-spawned server instances.",
		}),
		channelsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpipe_channels_closed_total",
			Help: "Channels that have transitioned to Closed.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpipe_messages_sent_total",
			Help: "Messages that completed a write across all channels.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpipe_messages_received_total",
			Help: "Messages decoded from the wire across all channels.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpipe_protocol_errors_total",
			Help: "Frames rejected for exceeding the configured max message size.",
		}),
	}
	registry.MustRegister(m.channelsCreated, m.channelsClosed, m.messagesSent, m.messagesReceived, m.protocolErrors)
	return m
}

// Registry returns the prometheus.Registry backing this service's metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Metrics exposes the MessageService's instrumentation.
func (s *MessageService) Metrics() *Metrics { return s.metrics }

package ipcpipe

import "time"

// PipeConfig carries the recognized configuration surface from spec §6,
// plus the teacher's own PipeConfig fields (SecurityDescriptor, MessageMode,
// buffer sizes, QueueSize) that this repo's listener-worker pool reuses
// verbatim.
type PipeConfig struct {
	// SecurityDescriptor is a Windows security descriptor in SDDL format.
	// Ignored on the portable (non-Windows) endpoint.
	SecurityDescriptor string

	// MessageMode selects message-mode framing at the pipe layer (distinct
	// from this module's own length-prefixed Message framing). Only
	// meaningful on Windows; see PipeEndpoint.CloseWrite.
	MessageMode bool

	// InputBufferSize and OutputBufferSize size the OS pipe buffers.
	// Zero uses DefaultReadChunk in both directions.
	InputBufferSize  int32
	OutputBufferSize int32

	// ServerInstanceLimit bounds concurrent pending server instances.
	// Zero means unlimited (spec §6's UNLIMITED default).
	ServerInstanceLimit uint32

	// QueueSize is how many listener-workers MessageService keeps pending
	// at once on the server side (spec §4.G's "a fresh pre-listening
	// channel" generalized to a pool). Defaults to 1.
	QueueSize int32

	// BusyWaitTimeout bounds how long NewClientPipeEndpoint waits for a server
	// instance to free up before giving up (spec §4.D/§6). Zero uses the
	// 5 second default.
	BusyWaitTimeout time.Duration

	// MaxMessageSize is the frame codec ceiling (spec §3/§6). Zero uses
	// DefaultMaxMessageSize.
	MaxMessageSize uint32
}

// DefaultBusyWaitTimeout is spec §4.D/§6's 5 second client-open retry
// window.
const DefaultBusyWaitTimeout = 5 * time.Second

func (c PipeConfig) withDefaults() PipeConfig {
	if c.InputBufferSize == 0 {
		c.InputBufferSize = DefaultReadChunk
	}
	if c.OutputBufferSize == 0 {
		c.OutputBufferSize = DefaultReadChunk
	}
	if c.BusyWaitTimeout == 0 {
		c.BusyWaitTimeout = DefaultBusyWaitTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}
	return c
}

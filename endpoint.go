package ipcpipe

// Endpoint is the abstract byte-stream handle from spec §4.C: uniform async
// I/O submitted to, and completed through, a Reactor. PipeEndpoint (Windows:
// pipeendpoint_windows.go, portable fallback: pipeendpoint_other.go) is the
// only concrete implementation this module ships, but Channel is written
// entirely against this interface so a TCP or Unix-socket Endpoint could be
// dropped in without touching the framing or queueing logic (spec §1 notes
// the Winsock duplicate is out of scope but endpoint-compatible).
type Endpoint interface {
	// SubmitRead grows ctx.Buffer by DefaultReadChunk past ctx.Offset and
	// issues a read targeting the new tail. The completion always arrives
	// through the owning Reactor; there is no short-circuit for an OS that
	// reports immediate completion (spec §4.C).
	SubmitRead(ctx *OperationContext)

	// SubmitWrite issues a write of the entirety of ctx.Buffer.
	SubmitWrite(ctx *OperationContext)

	// SubmitConnect is only meaningful for connection-oriented endpoints.
	// On an endpoint that is already connected (e.g. a client that opened
	// rather than listened), the callback fires synchronously on the
	// calling goroutine with (0, nil). Otherwise the callback fires later,
	// through the reactor, once the peer connects.
	SubmitConnect(ctx *OperationContext)

	// Cancel aborts every pending operation on this endpoint; each yields
	// exactly one Broken completion.
	Cancel()

	// Close cancels pending operations and releases the underlying handle.
	// Idempotent.
	Close() error

	// Connected reports the monotonic false→true connection flag.
	Connected() bool
}

// Package ipcpipe implements an asynchronous I/O reactor and a framed
// duplex message channel built on named pipes (Unix domain sockets on
// non-Windows hosts).
//
// The pieces, leaves first: Reactor multiplexes completions of outstanding
// overlapped I/O through a single OS completion queue; WorkerService is a
// FIFO task queue drained on the reactor thread; Endpoint is the abstract
// async byte-stream handle that PipeEndpoint implements concretely over a
// named pipe; the frame codec turns a byte stream into length-prefixed
// Messages; Channel combines one PipeEndpoint, the codec, and per-direction
// send/receive queues behind a single user callback; MessageService owns a
// Reactor, a WorkerService, and a channel collection, auto-spawning a fresh
// listening instance on the server side after every accept.
package ipcpipe

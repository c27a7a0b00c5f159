package ipcpipe

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors, compared with errors.Is by callers. Wrapping at
// construction boundaries uses github.com/pkg/errors, matching the
// teacher's pkg/guid and pkg/volmount packages.
var (
	// ErrReactorClosed is returned by Register and RegisterHandler once
	// Shutdown has been observed. Post after Shutdown is a silent no-op.
	ErrReactorClosed = errors.New("ipcpipe: reactor is shut down")

	// ErrPipeListenerClosed mirrors go-winio's net.ErrClosed re-export. No
	// function in this package returns it; a closed server endpoint reports
	// its pending connect as a Broken completion instead.
	ErrPipeListenerClosed = errors.New("ipcpipe: pipe listener closed")

	// ErrTimeout is returned by NewClientPipeEndpoint (and so by a
	// client-role MessageService.CreateChannel) when opening the pipe does
	// not succeed within PipeConfig.BusyWaitTimeout.
	ErrTimeout = errors.New("ipcpipe: dial timeout")

	// ErrClosed marks a channel that has already reported its closure
	// notification. Per spec §7 this is the implementer's choice for a
	// post-closure Send(); this repo chooses to return it rather than
	// silently discard, while still guaranteeing the callback never fires
	// a second time.
	ErrClosed = errors.New("ipcpipe: channel closed")

	// ErrProtocol marks a frame whose advertised size exceeds
	// PipeConfig.MaxMessageSize.
	ErrProtocol = errors.New("ipcpipe: frame exceeds max message size")

	// ErrPeerClosed marks the normal end-of-life signal: a zero-byte read
	// or an OS-reported broken-pipe/reset condition.
	ErrPeerClosed = errors.New("ipcpipe: peer closed the connection")

	// ErrInvalidConfig marks a malformed configuration file or value.
	ErrInvalidConfig = errors.New("ipcpipe: invalid configuration")
)

// wrap is a small helper kept so every constructor boundary attaches context
// through the same library, rather than mixing fmt.Errorf("%w") and
// pkg/errors ad hoc.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

func wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

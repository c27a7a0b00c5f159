package ipcpipe

import "fmt"

// OperationKind tags the purpose of an in-flight OperationContext.
type OperationKind int

const (
	OpUnknown OperationKind = iota
	OpConnect
	OpRead
	OpWrite
	OpClose
	OpBroken
	OpWakeup
)

func (k OperationKind) String() string {
	switch k {
	case OpConnect:
		return "connect"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpClose:
		return "close"
	case OpBroken:
		return "broken"
	case OpWakeup:
		return "wakeup"
	default:
		return "unknown"
	}
}

// CompletionFunc is invoked exactly once when an OperationContext's
// submission finishes, whether successfully or with an error. It is always
// invoked on the reactor thread (the goroutine running Reactor.RunLoop),
// except for the documented synchronous short-circuit on an
// already-connected client endpoint (see Endpoint.SubmitConnect).
type CompletionFunc func(ctx *OperationContext, n int, err error)

// OperationContext is the per-submission record the spec calls out in §3.
// The OS-level overlap descriptor this requires on Windows is deliberately
// NOT a field here: spec §9 flags the original source's "prefix field" cast
// as the thing to redesign away. Each platform's endpoint instead owns a
// pinned submission slot (see pipeendpoint_windows.go's ioSlot) that holds
// the OS descriptor and is correlated back to its OperationContext by
// identity, never by reinterpreting a pointer's type.
//
// While Pending is true, Buffer is owned by the kernel (or, on the portable
// endpoint, by the goroutine performing the I/O) and must not be read,
// mutated, or reused by caller code.
type OperationContext struct {
	Kind     OperationKind
	Buffer   []byte
	Offset   int
	Callback CompletionFunc

	pending bool
}

// Pending reports whether this context's submission has not yet completed.
// It is only meaningful when read from the reactor thread; see spec §5.
func (c *OperationContext) Pending() bool { return c.pending }

func (c *OperationContext) String() string {
	return fmt.Sprintf("OperationContext{kind=%s pending=%v offset=%d len=%d}", c.Kind, c.pending, c.Offset, len(c.Buffer))
}

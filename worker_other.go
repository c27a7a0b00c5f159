//go:build !windows

package ipcpipe

var _ Handler = (*WorkerService)(nil)

// HandleCompletion implements Handler for a WorkerService bound to a
// Reactor via BindReactor: a wakeup posted by Dispatch (spec §4.A's "post a
// wakeup through A") drains the task queue inline on the reactor thread
// that is calling Reactor.WaitOne, never on a second goroutine.
func (w *WorkerService) HandleCompletion(_ *struct{}, _ int, _ error) {
	w.RunOne()
}

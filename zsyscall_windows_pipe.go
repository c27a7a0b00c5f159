//go:build windows

package ipcpipe

// Hand-written syscall bindings for the subset of the named-pipe Win32 API
// this module needs that golang.org/x/sys/windows does not export directly
// (the teacher's own zsyscall_windows.go generates equivalent bindings for
// ConnectNamedPipe, GetNamedPipeInfo, etc. via mkwinsyscall for the same
// reason). Style matches that file: a LazyDLL proc table and hand-rolled
// Syscall wrappers, since `go generate` is not run as part of this module's
// build.

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32pipe = windows.NewLazySystemDLL("kernel32.dll")

	procCreateNamedPipeW  = modkernel32pipe.NewProc("CreateNamedPipeW")
	procConnectNamedPipe  = modkernel32pipe.NewProc("ConnectNamedPipe")
	procDisconnectNamedPipe = modkernel32pipe.NewProc("DisconnectNamedPipe")
	procGetNamedPipeInfo  = modkernel32pipe.NewProc("GetNamedPipeInfo")
	procWaitNamedPipeW    = modkernel32pipe.NewProc("WaitNamedPipeW")
)

func createNamedPipe(name string, openMode uint32, pipeMode uint32, maxInstances uint32, outBufferSize uint32, inBufferSize uint32, defaultTimeoutMillis uint32, sa *windows.SecurityAttributes) (windows.Handle, error) {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return windows.InvalidHandle, err
	}
	r0, _, e1 := syscall.Syscall9(procCreateNamedPipeW.Addr(), 8,
		uintptr(unsafe.Pointer(namep)),
		uintptr(openMode),
		uintptr(pipeMode),
		uintptr(maxInstances),
		uintptr(outBufferSize),
		uintptr(inBufferSize),
		uintptr(defaultTimeoutMillis),
		uintptr(unsafe.Pointer(sa)),
		0)
	h := windows.Handle(r0)
	if h == windows.InvalidHandle {
		return h, errnoOrEINVAL(e1)
	}
	return h, nil
}

func connectNamedPipe(pipe windows.Handle, o *windows.Overlapped) error {
	r1, _, e1 := syscall.Syscall(procConnectNamedPipe.Addr(), 2, uintptr(pipe), uintptr(unsafe.Pointer(o)), 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func disconnectNamedPipe(pipe windows.Handle) error {
	r1, _, e1 := syscall.Syscall(procDisconnectNamedPipe.Addr(), 1, uintptr(pipe), 0, 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func getNamedPipeInfo(pipe windows.Handle, flags *uint32, outSize *uint32, inSize *uint32, maxInstances *uint32) error {
	r1, _, e1 := syscall.Syscall6(procGetNamedPipeInfo.Addr(), 5,
		uintptr(pipe), uintptr(unsafe.Pointer(flags)), uintptr(unsafe.Pointer(outSize)), uintptr(unsafe.Pointer(inSize)), uintptr(unsafe.Pointer(maxInstances)), 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func waitNamedPipe(name string, timeoutMillis uint32) error {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	r1, _, e1 := syscall.Syscall(procWaitNamedPipeW.Addr(), 2, uintptr(unsafe.Pointer(namep)), uintptr(timeoutMillis), 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func errnoOrEINVAL(e1 syscall.Errno) error {
	if e1 != 0 {
		return e1
	}
	return syscall.EINVAL
}

//go:build windows

package ipcpipe

// Syscall bindings backing sd.go's SDDL conversion helpers, adapted from
// the teacher's generated zsyscall_windows.go (itself produced by
// `go generate` over //sys directives in sd.go) down to just the six
// procs sd.go's helpers call. Style matches
// zsyscall_windows_pipe.go: LazyDLL proc table, hand-rolled Syscall calls.

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modadvapi32sd = windows.NewLazySystemDLL("advapi32.dll")
	modkernel32sd = windows.NewLazySystemDLL("kernel32.dll")

	procConvertSecurityDescriptorToStringSecurityDescriptorW = modadvapi32sd.NewProc("ConvertSecurityDescriptorToStringSecurityDescriptorW")
	procConvertSidToStringSidW                               = modadvapi32sd.NewProc("ConvertSidToStringSidW")
	procConvertStringSecurityDescriptorToSecurityDescriptorW = modadvapi32sd.NewProc("ConvertStringSecurityDescriptorToSecurityDescriptorW")
	procGetSecurityDescriptorLength                          = modadvapi32sd.NewProc("GetSecurityDescriptorLength")
	procLookupAccountNameW                                   = modadvapi32sd.NewProc("LookupAccountNameW")
	procLocalFreeSD                                          = modkernel32sd.NewProc("LocalFree")
)

func convertSecurityDescriptorToStringSecurityDescriptor(sd *byte, revision uint32, secInfo uint32, sddl **uint16, sddlSize *uint32) error {
	r1, _, e1 := syscall.Syscall6(procConvertSecurityDescriptorToStringSecurityDescriptorW.Addr(), 5,
		uintptr(unsafe.Pointer(sd)), uintptr(revision), uintptr(secInfo), uintptr(unsafe.Pointer(sddl)), uintptr(unsafe.Pointer(sddlSize)), 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func convertSidToStringSid(sid *byte, str **uint16) error {
	r1, _, e1 := syscall.Syscall(procConvertSidToStringSidW.Addr(), 2, uintptr(unsafe.Pointer(sid)), uintptr(unsafe.Pointer(str)), 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func convertStringSecurityDescriptorToSecurityDescriptor(str string, revision uint32, sd *uintptr, size *uint32) error {
	strp, err := syscall.UTF16PtrFromString(str)
	if err != nil {
		return err
	}
	r1, _, e1 := syscall.Syscall6(procConvertStringSecurityDescriptorToSecurityDescriptorW.Addr(), 4,
		uintptr(unsafe.Pointer(strp)), uintptr(revision), uintptr(unsafe.Pointer(sd)), uintptr(unsafe.Pointer(size)), 0, 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func getSecurityDescriptorLength(sd uintptr) uint32 {
	r0, _, _ := syscall.Syscall(procGetSecurityDescriptorLength.Addr(), 1, sd, 0, 0)
	return uint32(r0)
}

func lookupAccountName(systemName *uint16, accountName string, sid *byte, sidSize *uint32, refDomain *uint16, refDomainSize *uint32, sidNameUse *uint32) error {
	namep, err := syscall.UTF16PtrFromString(accountName)
	if err != nil {
		return err
	}
	r1, _, e1 := syscall.Syscall9(procLookupAccountNameW.Addr(), 7,
		uintptr(unsafe.Pointer(systemName)), uintptr(unsafe.Pointer(namep)), uintptr(unsafe.Pointer(sid)),
		uintptr(unsafe.Pointer(sidSize)), uintptr(unsafe.Pointer(refDomain)), uintptr(unsafe.Pointer(refDomainSize)),
		uintptr(unsafe.Pointer(sidNameUse)), 0, 0)
	if r1 == 0 {
		return errnoOrEINVAL(e1)
	}
	return nil
}

func localFree(mem uintptr) {
	syscall.Syscall(procLocalFreeSD.Addr(), 1, mem, 0, 0) //nolint:errcheck
}

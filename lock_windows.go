//go:build windows

// LockFileEx/UnlockFileEx byte-range implementation for Windows.
// Both methods are called with l.mu held by the exported Lock/Unlock.
package pstore

import (
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
)

func (l *fileLock) lock(blocking bool) error {
	var flags uint32 = lockfileExclusiveLock
	if !blocking {
		flags |= lockfileFailImmediately
	}

	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped
	overlapped.Offset = uint32(l.offset)
	overlapped.OffsetHigh = uint32(l.offset >> 32)

	r1, _, err := procLockFileEx.Call(
		uintptr(h),
		uintptr(flags),
		0,
		uintptr(uint32(l.length)),
		uintptr(uint32(l.length>>32)),
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		if !blocking {
			return ErrWouldBlock
		}
		return wrapIO("LockFileEx", err)
	}
	return nil
}

func (l *fileLock) unlock() error {
	h := syscall.Handle(l.f.Fd())
	var overlapped syscall.Overlapped
	overlapped.Offset = uint32(l.offset)
	overlapped.OffsetHigh = uint32(l.offset >> 32)

	r1, _, err := procUnlockFileEx.Call(
		uintptr(h),
		0,
		uintptr(uint32(l.length)),
		uintptr(uint32(l.length>>32)),
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return wrapIO("UnlockFileEx", err)
	}
	return nil
}

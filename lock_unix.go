//go:build unix || linux || darwin

// fcntl(2) byte-range locking for Unix platforms.
// Both methods are called with l.mu held by the exported Lock/Unlock.
package pstore

import (
	"golang.org/x/sys/unix"
)

func (l *fileLock) lock(blocking bool) error {
	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  l.offset,
		Len:    l.length,
	}
	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}
	if err := unix.FcntlFlock(l.f.Fd(), cmd, &flock); err != nil {
		if !blocking && (err == unix.EACCES || err == unix.EAGAIN) {
			return ErrWouldBlock
		}
		return wrapIO("fcntl lock", err)
	}
	return nil
}

func (l *fileLock) unlock() error {
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  l.offset,
		Len:    l.length,
	}
	if err := unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &flock); err != nil {
		return wrapIO("fcntl unlock", err)
	}
	return nil
}

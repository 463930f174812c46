// Cross-process transaction locking.
//
// The store supports exactly one writer at a time. Mutual exclusion comes
// from a single advisory byte-range lock held on a fixed range inside the
// file header (outside any field a lock-free reader touches), acquired for
// the lifetime of a Transaction. A byte-range lock is used rather than a
// whole-file lock since readers must keep reading the same file
// concurrently with a writer holding the lock.
package pstore

import (
	"os"
	"sync"
)

// transactionLockOffset and transactionLockLength name the fixed header
// byte range locked by every transaction. They sit inside offReserved, the
// padding after FooterPos (header.go), so a lock-free reader never touches
// them: magic, version, UUID, sync name, crash indicator and footer_pos all
// end at or before offFooterPos+8, which is where this range begins.
const (
	transactionLockOffset = offReserved
	transactionLockLength = 1
)

// TransactionLock is the cross-platform advisory lock abstraction used
// in place of ad hoc per-platform locking code scattered through the
// database. Its Unlock makes rollback-on-drop natural in Transaction.
type TransactionLock interface {
	// Lock blocks until the lock is acquired.
	Lock() error
	// TryLock acquires the lock without blocking, returning (false, nil)
	// if it is already held elsewhere.
	TryLock() (bool, error)
	// Unlock releases a lock previously acquired by Lock or a
	// successful TryLock.
	Unlock() error
}

// fileLock implements TransactionLock over a byte range of an *os.File
// using the platform's advisory locking primitive (fcntl F_SETLK(W) on
// POSIX, LockFileEx on Windows — see lock_unix.go/lock_windows.go).
//
// mu serialises the underlying syscall against setFile so that a
// concurrent Close cannot invalidate the fd mid-syscall.
type fileLock struct {
	mu     sync.Mutex
	f      *os.File
	offset int64
	length int64
}

func newFileLock(f *os.File) *fileLock {
	return &fileLock{f: f, offset: transactionLockOffset, length: transactionLockLength}
}

func (l *fileLock) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrStoreClosed
	}
	return l.lock(true)
}

func (l *fileLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return false, ErrStoreClosed
	}
	if err := l.lock(false); err != nil {
		if err == ErrWouldBlock {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying file handle. Passing nil drains any
// in-flight lock syscall (blocks until mu is available) and disables
// further locking; used by Database.Close before closing the fd.
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}

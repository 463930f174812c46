package pstore

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestLockFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Truncate(HeaderSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileLockLockUnlock(t *testing.T) {
	f := openTestLockFile(t)
	l := newFileLock(f)
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestFileLockTryLockWhenFree(t *testing.T) {
	f := openTestLockFile(t)
	l := newFileLock(f)
	ok, err := l.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok {
		t.Fatal("TryLock should succeed on an unlocked range")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestFileLockAfterSetFileNil(t *testing.T) {
	f := openTestLockFile(t)
	l := newFileLock(f)
	l.setFile(nil)
	if err := l.Lock(); err != ErrStoreClosed {
		t.Errorf("Lock after setFile(nil) = %v, want ErrStoreClosed", err)
	}
	if _, err := l.TryLock(); err != ErrStoreClosed {
		t.Errorf("TryLock after setFile(nil) = %v, want ErrStoreClosed", err)
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock after setFile(nil) should be a no-op, got %v", err)
	}
}

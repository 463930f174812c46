package pstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenDetectsCorruptFooterChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.pstore")
	db, err := BuildNewStore(path, Config{FullRegionSize: defaultMinRegionSize, MinRegionSize: defaultMinRegionSize})
	if err != nil {
		t.Fatalf("BuildNewStore: %v", err)
	}
	tx, err := Begin(db)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	w := NewWriter(tx)
	if _, err := w.Put([]byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	footerAddr := db.header.FooterPos()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt a byte inside the CRC-covered region of the latest trailer.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], int64(footerAddr)+8); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b[:], int64(footerAddr)+8); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	if _, err := Open(path, OpenReadOnly, Config{}); err != ErrFooterCorrupt {
		t.Errorf("Open over a corrupted footer chain = %v, want ErrFooterCorrupt", err)
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.pstore")
	f, err := createTestFile(path, HeaderSize)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()
	if _, err := Open(path, OpenReadOnly, Config{}); err != ErrHeaderCorrupt {
		t.Errorf("got %v, want ErrHeaderCorrupt", err)
	}
}

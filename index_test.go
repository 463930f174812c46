package pstore

import "testing"

func TestFragmentIndexDeduplicates(t *testing.T) {
	db := newTestStore(t)
	tx, err := Begin(db)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fi, err := db.OpenFragmentIndex(tx)
	if err != nil {
		t.Fatalf("OpenFragmentIndex: %v", err)
	}

	data := []byte("shared content")
	digest := FNV128a(data).Bytes()

	first, err := fi.Put(tx, digest, data, 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := fi.Put(tx, digest, data, 1)
	if err != nil {
		t.Fatalf("Put (dup): %v", err)
	}
	if first.Data.Addr != second.Data.Addr {
		t.Errorf("Put with the same digest should return the same stored extent: %v != %v", first, second)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestFragmentIndexFindMissing(t *testing.T) {
	db := newTestStore(t)
	fi := NewFragmentIndex(db.Storage())
	var digest [16]byte
	if _, err := fi.Find(digest); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

package pstore

import "testing"

func TestStringTableInternAndLookupStaged(t *testing.T) {
	db := newTestStore(t)
	st := NewStringTable(db.Storage())

	inserted, err := st.Intern("hello")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if !inserted {
		t.Error("first Intern should report true")
	}

	inserted, err = st.Intern("hello")
	if err != nil {
		t.Fatalf("Intern (duplicate): %v", err)
	}
	if inserted {
		t.Error("re-interning the same string within one transaction should report false")
	}

	_, found, err := st.Lookup("hello")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Error("a staged string should be found by Lookup")
	}

	_, found, err = st.Lookup("goodbye")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Error("an un-interned string should not be found")
	}
}

func TestStringTableFlushAndReopen(t *testing.T) {
	db := newTestStore(t)
	tx, err := Begin(db)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	st, err := db.OpenStringTable(tx)
	if err != nil {
		t.Fatalf("OpenStringTable: %v", err)
	}
	for _, s := range []string{"one", "two", "three"} {
		if _, err := st.Intern(s); err != nil {
			t.Fatalf("Intern(%s): %v", s, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	reopened := head.StringTable()
	for _, s := range []string{"one", "two", "three"} {
		extent, found, err := reopened.Lookup(s)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", s, err)
		}
		if !found {
			t.Fatalf("Lookup(%s) should find a committed string", s)
		}
		slice, err := db.Storage().Get(extent.Addr.Addr, extent.Size, true, false)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(slice.Bytes) != s {
			t.Errorf("stored bytes = %q, want %q", slice.Bytes, s)
		}
	}
}

package pstore

import (
	"fmt"
	"testing"
)

func TestHAMTIndexFindNotFound(t *testing.T) {
	db := newTestStore(t)
	idx := NewHAMTIndex(db.Storage())
	if _, err := idx.Find([]byte("missing")); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestHAMTIndexInsertFindInMemory(t *testing.T) {
	db := newTestStore(t)
	idx := NewHAMTIndex(db.Storage())

	inserted, err := idx.InsertOrAssign([]byte("k1"), []byte("v1"))
	if err != nil {
		t.Fatalf("InsertOrAssign: %v", err)
	}
	if !inserted {
		t.Error("first insert should report inserted=true")
	}

	v, err := idx.Find([]byte("k1"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if string(v) != "v1" {
		t.Errorf("Find = %q, want %q", v, "v1")
	}

	inserted, err = idx.InsertOrAssign([]byte("k1"), []byte("v2"))
	if err != nil {
		t.Fatalf("InsertOrAssign (reassign): %v", err)
	}
	if inserted {
		t.Error("reassigning an existing key should report inserted=false")
	}
	v, err = idx.Find([]byte("k1"))
	if err != nil {
		t.Fatalf("Find after reassign: %v", err)
	}
	if string(v) != "v2" {
		t.Errorf("Find after reassign = %q, want %q", v, "v2")
	}
}

func TestHAMTIndexManyKeysFlushAndReopen(t *testing.T) {
	db := newTestStore(t)
	tx, err := Begin(db)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	idx, err := db.OpenFragmentIndex(tx) // exercises the generic HAMT via a real flusher slot
	if err != nil {
		t.Fatalf("OpenFragmentIndex: %v", err)
	}

	want := make(map[string][]byte)
	for i := range 200 {
		key := []byte(fmt.Sprintf("key-%d", i))
		value := []byte(fmt.Sprintf("value-%d", i))
		digest := FNV128a(key).Bytes()
		if _, err := idx.Put(tx, digest, value, 1); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		want[string(digest[:])] = value
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	reopened := head.FragmentIndex()
	for digestStr, value := range want {
		frag, err := reopened.Find([16]byte([]byte(digestStr)))
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		slice, err := db.Storage().Get(frag.Data.Addr.Addr, frag.Data.Size, true, false)
		if err != nil {
			t.Fatalf("Get fragment bytes: %v", err)
		}
		if string(slice.Bytes) != string(value) {
			t.Errorf("fragment mismatch: got %q want %q", slice.Bytes, value)
		}
	}
}

func TestHAMTIndexHashCollisionFallsBackToLinear(t *testing.T) {
	db := newTestStore(t)
	idx := NewHAMTIndex(db.Storage())

	// Synthesize two distinct keys that we force to collide by pretending
	// they hash identically: exercised through splitLeaf's depth-exhausted
	// path directly, since finding a genuine two-preimage FNV-128a
	// collision is not computationally feasible in a test.
	hash := FNV128a([]byte("collision-seed"))
	leaf := &node{kind: nodeLeaf, hash: hash, key: []byte("first"), value: []byte("v1")}
	ref, inserted, err := idx.splitLeaf(leaf, hash, []byte("second"), []byte("v2"), maxHashDepth+1)
	if err != nil {
		t.Fatalf("splitLeaf: %v", err)
	}
	if !inserted {
		t.Error("splitLeaf should report a new entry")
	}
	if ref.heap == nil || ref.heap.kind != nodeLinear {
		t.Fatalf("expected a linear node once hash bits are exhausted, got %+v", ref.heap)
	}
	if len(ref.heap.entries) != 2 {
		t.Fatalf("linear node should hold both colliding entries, got %d", len(ref.heap.entries))
	}
}

func TestHAMTIndexAllIsStableAndComplete(t *testing.T) {
	db := newTestStore(t)
	idx := NewHAMTIndex(db.Storage())
	keys := []string{"alpha", "bravo", "charlie", "delta"}
	for _, k := range keys {
		if _, err := idx.InsertOrAssign([]byte(k), []byte(k+"-value")); err != nil {
			t.Fatalf("InsertOrAssign(%s): %v", k, err)
		}
	}
	entries, err := idx.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != len(keys) {
		t.Fatalf("All returned %d entries, want %d", len(entries), len(keys))
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		seen[string(e.Key)] = true
	}
	for _, k := range keys {
		if !seen[k] {
			t.Errorf("All missing key %q", k)
		}
	}
}

func TestHashSlotExhaustsAtMaxDepth(t *testing.T) {
	h := FNV128a([]byte("anything"))
	if _, ok := hashSlot(h, maxHashDepth+1); ok {
		t.Error("hashSlot should report exhaustion past maxHashDepth")
	}
	if _, ok := hashSlot(h, 0); !ok {
		t.Error("hashSlot should succeed at depth 0")
	}
	if _, ok := hashSlot(h, maxHashDepth); !ok {
		t.Error("hashSlot should succeed at maxHashDepth")
	}
}

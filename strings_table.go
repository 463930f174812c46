// Indirect-string table: a HAMTIndex specialised for interning strings
// whose bytes live elsewhere in the store.
package pstore

import "encoding/binary"

// StringTable interns strings, keeping at most one copy of each distinct
// string's bytes in the store. Leaf values are an encoded Extent<u8>
// pointing at the interned bytes rather than the bytes themselves, kept
// small so lookups in the (conceptually much larger) name index stay
// cheap even before touching the string's own bytes.
type StringTable struct {
	storage *Storage
	index   *HAMTIndex

	staging    []string
	stagingPos map[string]int // string -> index into staging, dedupes within one open transaction
}

// NewStringTable returns an empty table, for a freshly built store.
func NewStringTable(storage *Storage) *StringTable {
	return &StringTable{storage: storage, index: NewHAMTIndex(storage), stagingPos: make(map[string]int)}
}

// OpenStringTable reopens a table rooted at a previously flushed extent.
func OpenStringTable(storage *Storage, root Extent[IndexRoot]) *StringTable {
	return &StringTable{storage: storage, index: OpenHAMTIndex(storage, root), stagingPos: make(map[string]int)}
}

// Lookup resolves s to its interned bytes' extent, checking the
// not-yet-flushed staging set (a map lookup) before the committed trie.
// A still-pending string is reported found with a zero Extent, since its
// bytes have no store address until flush.
func (st *StringTable) Lookup(s string) (Extent[byte], bool, error) {
	if _, pending := st.stagingPos[s]; pending {
		return Extent[byte]{}, true, nil
	}
	v, err := st.index.Find([]byte(s))
	if err == ErrNotFound {
		return Extent[byte]{}, false, nil
	}
	if err != nil {
		return Extent[byte]{}, false, err
	}
	return decodeByteExtent(v), true, nil
}

// Intern records s for inclusion at the next Flush, returning false if it
// was already interned (staged or committed).
func (st *StringTable) Intern(s string) (bool, error) {
	if _, pending := st.stagingPos[s]; pending {
		return false, nil
	}
	_, err := st.index.Find([]byte(s))
	if err == nil {
		return false, nil
	}
	if err != ErrNotFound {
		return false, err
	}
	st.stagingPos[s] = len(st.staging)
	st.staging = append(st.staging, s)
	return true, nil
}

// flush lays out every staged string contiguously, in insertion order,
// then inserts each into the underlying index keyed by its own bytes.
// Implements the flusher interface Transaction.Commit drives.
func (st *StringTable) flush(tx *Transaction, generation uint32) (Extent[IndexRoot], error) {
	w := newInternalWriter(tx)
	for _, s := range st.staging {
		addr, err := w.Put([]byte(s))
		if err != nil {
			return NullExtent[IndexRoot](), err
		}
		extent := Extent[byte]{Addr: TypedAddress[byte]{Addr: addr}, Size: uint64(len(s))}
		if _, err := st.index.InsertOrAssign([]byte(s), encodeByteExtent(extent)); err != nil {
			return NullExtent[IndexRoot](), err
		}
	}
	st.staging = nil
	st.stagingPos = make(map[string]int)
	return st.index.flush(tx, generation)
}

func encodeByteExtent(e Extent[byte]) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Addr.Addr))
	binary.LittleEndian.PutUint64(buf[8:16], e.Size)
	return buf
}

func decodeByteExtent(b []byte) Extent[byte] {
	return Extent[byte]{
		Addr: TypedAddress[byte]{Addr: Address(binary.LittleEndian.Uint64(b[0:8]))},
		Size: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Content-addressed fragment index: the digest→fragment instantiation of
// HAMTIndex named IndexDigest in the footer. A fragment is an opaque,
// aligned byte range keyed by a 16-byte digest (conceptually
// the low 128 bits of a wider content hash; pstore uses FNV-128a itself
// rather than assuming the caller already hashed with it, so any digest
// the caller supplies is simply the index key).
package pstore

import "encoding/binary"

// Fragment is a stored, content-addressed byte range.
type Fragment struct {
	Data  Extent[byte]
	Align uint64
}

// FragmentIndex wraps a HAMTIndex keyed by 16-byte digest. seen is an
// optional in-memory bloom filter a writer populates as it Puts fragments,
// letting MaybeHas skip a HAMT descent for a digest that provably has
// never been stored in this transaction's lineage of Puts.
type FragmentIndex struct {
	index *HAMTIndex
	seen  *bloom
}

// NewFragmentIndex returns an empty fragment index.
func NewFragmentIndex(storage *Storage) *FragmentIndex {
	return &FragmentIndex{index: NewHAMTIndex(storage), seen: newBloom()}
}

// OpenFragmentIndex reopens a fragment index rooted at a flushed extent.
func OpenFragmentIndex(storage *Storage, root Extent[IndexRoot]) *FragmentIndex {
	return &FragmentIndex{index: OpenHAMTIndex(storage, root), seen: newBloom()}
}

// MaybeHas reports whether digest might have been Put through this
// FragmentIndex value. The filter only ever accumulates digests Put into
// this particular instance, so a false result rules out such a Put but
// says nothing about digests committed by an earlier transaction; a true
// result still requires Find to confirm.
func (fi *FragmentIndex) MaybeHas(digest [16]byte) bool {
	return fi.seen.MaybeContains(digest)
}

// Find resolves digest to its stored fragment.
func (fi *FragmentIndex) Find(digest [16]byte) (Fragment, error) {
	v, err := fi.index.Find(digest[:])
	if err != nil {
		return Fragment{}, err
	}
	return decodeFragment(v), nil
}

// Put writes data (aligned to align) if its digest is not already
// present, returning the stored fragment either way — callers get
// automatic content deduplication within a single index.
func (fi *FragmentIndex) Put(tx *Transaction, digest [16]byte, data []byte, align uint64) (Fragment, error) {
	if existing, err := fi.index.Find(digest[:]); err == nil {
		return decodeFragment(existing), nil
	} else if err != ErrNotFound {
		return Fragment{}, err
	}
	w := NewWriter(tx)
	addr, err := w.PutAligned(data, align)
	if err != nil {
		return Fragment{}, err
	}
	frag := Fragment{
		Data:  Extent[byte]{Addr: TypedAddress[byte]{Addr: addr}, Size: uint64(len(data))},
		Align: align,
	}
	if _, err := fi.index.InsertOrAssign(digest[:], encodeFragment(frag)); err != nil {
		return Fragment{}, err
	}
	fi.seen.Add(digest)
	return frag, nil
}

func (fi *FragmentIndex) flush(tx *Transaction, generation uint32) (Extent[IndexRoot], error) {
	return fi.index.flush(tx, generation)
}

func encodeFragment(f Fragment) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.Data.Addr.Addr))
	binary.LittleEndian.PutUint64(buf[8:16], f.Data.Size)
	binary.LittleEndian.PutUint64(buf[16:24], f.Align)
	return buf
}

func decodeFragment(b []byte) Fragment {
	return Fragment{
		Data: Extent[byte]{
			Addr: TypedAddress[byte]{Addr: Address(binary.LittleEndian.Uint64(b[0:8]))},
			Size: binary.LittleEndian.Uint64(b[8:16]),
		},
		Align: binary.LittleEndian.Uint64(b[16:24]),
	}
}

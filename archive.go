// Serialisation archive: Writer appends length/type-prefixed bytes
// through a Transaction; Reader walks them back out of Storage, one
// self-describing unit at a time, built on Transaction.Allocate and
// Storage.Get.
package pstore

import "encoding/binary"

// Writer appends bytes to the store through a transaction, returning the
// address each write starts at so callers can link it from a parent node.
type Writer struct {
	tx *Transaction

	// internal is set by newInternalWriter for writers used during
	// Transaction.Commit's index-flush step, which already holds tx.mu:
	// such a writer must allocate through tx.allocateLocked directly
	// rather than the public, mutex-acquiring tx.Allocate.
	internal bool
}

// NewWriter wraps tx for use by ordinary callers outside a commit.
func NewWriter(tx *Transaction) *Writer { return &Writer{tx: tx} }

// newInternalWriter wraps tx for use while tx.mu is already held, i.e.
// from a flusher's flush method during Commit.
func newInternalWriter(tx *Transaction) *Writer { return &Writer{tx: tx, internal: true} }

// Put copies data to a freshly allocated, byte-aligned extent.
func (w *Writer) Put(data []byte) (Address, error) {
	return w.PutAligned(data, 1)
}

// PutAligned copies data to a freshly allocated extent aligned to align.
func (w *Writer) PutAligned(data []byte, align uint64) (Address, error) {
	var addr Address
	var err error
	if w.internal {
		addr, err = w.tx.allocateLocked(uint64(len(data)), align)
	} else {
		addr, err = w.tx.Allocate(uint64(len(data)), align)
	}
	if err != nil {
		return NullAddress, err
	}
	if len(data) == 0 {
		return addr, nil
	}
	slice, err := w.tx.Storage().Get(addr, uint64(len(data)), false, true)
	if err != nil {
		return NullAddress, err
	}
	copy(slice.Bytes, data)
	if !slice.Borrowed {
		if err := w.tx.Storage().WriteAt(addr, slice.Bytes); err != nil {
			return NullAddress, err
		}
	}
	return addr, nil
}

// PutUint64 writes v little-endian at an 8-byte aligned address.
func (w *Writer) PutUint64(v uint64) (Address, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.PutAligned(buf[:], 8)
}

// PutVarint writes v LEB128-encoded (no alignment requirement).
func (w *Writer) PutVarint(v uint64) (Address, error) {
	return w.Put(appendVarint(nil, v))
}

// PutVarBytes writes a varint length prefix followed by data.
func (w *Writer) PutVarBytes(data []byte) (Address, error) {
	buf := appendVarint(nil, uint64(len(data)))
	buf = append(buf, data...)
	return w.Put(buf)
}

// Reader walks a sequence of archive values out of Storage starting at a
// given address, advancing as it goes. Unlike Writer it has no notion of
// alignment padding between values: callers that interleave PutAligned
// writes must track offsets themselves (as HAMT node encoding does), since
// a self-describing stream (varint-prefixed strings, fixed-width ints) has
// no gaps to skip.
type Reader struct {
	storage *Storage
	addr    Address
}

// NewReader wraps storage, starting at addr.
func NewReader(storage *Storage, addr Address) *Reader {
	return &Reader{storage: storage, addr: addr}
}

// Addr returns the reader's current position.
func (r *Reader) Addr() Address { return r.addr }

// Seek repositions the reader.
func (r *Reader) Seek(addr Address) { r.addr = addr }

// ReadBytes returns the next n bytes and advances past them.
func (r *Reader) ReadBytes(n uint64) ([]byte, error) {
	slice, err := r.storage.Get(r.addr, n, true, false)
	if err != nil {
		return nil, err
	}
	r.addr = r.addr.Add(n)
	return slice.Bytes, nil
}

// ReadUint64 reads a little-endian uint64 and advances 8 bytes.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadByte reads a single byte and advances.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// maxVarintBytes bounds how many bytes ReadVarint will ever consume,
// rejecting pathological or corrupt streams: ceil(64/7) = 10.
const maxVarintBytes = 10

// ReadVarint decodes a LEB128 varint, rejecting overlong encodings (a
// continuation byte beyond the 10th) and values that overflow 64 bits.
func (r *Reader) ReadVarint() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxVarintBytes-1 && b > 1 {
			return 0, ErrBadVarint
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrBadVarint
}

// ReadVarBytes reads a varint length prefix then that many raw bytes.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

// appendVarint appends v to buf as a LEB128 varint.
func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// decodeVarint decodes a LEB128 varint from the head of buf, returning the
// value and the number of bytes consumed. Used where a buffer has already
// been materialised (e.g. a HAMT node already read in full) and a second
// Storage round-trip would be wasteful.
func decodeVarint(buf []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintBytes && i < len(buf); i++ {
		b := buf[i]
		if i == maxVarintBytes-1 && b > 1 {
			return 0, 0, ErrBadVarint
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	if len(buf) < maxVarintBytes {
		return 0, 0, ErrShortRead
	}
	return 0, 0, ErrBadVarint
}

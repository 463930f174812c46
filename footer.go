// Trailer/Footer: one per committed revision, allocated at end-of-file
// by the transaction that produces it.
package pstore

import "encoding/binary"

// NumIndices is the fixed count of named index roots every footer
// carries. pstore instantiates two: the content-addressed digest→fragment
// index and the name (indirect string) index.
const NumIndices = 2

const (
	IndexDigest = 0 // digest → fragment extent
	IndexName   = 1 // interned name/string table
)

// Fixed sentinels used to detect a mis-located or corrupt trailer.
var (
	trailerSignature1 = [8]byte{'p', 's', 't', 'r', 'l', 'r', '1', 0}
	trailerSignature2 = [8]byte{'p', 's', 't', 'r', 'l', 'r', '2', 0}
)

// rawExtent is the 16-byte on-disk shape of an Extent<T>: an absolute
// address plus a byte length. IndexRoot carries no run-time type, so the
// wire format only ever stores rawExtent; Extent[IndexRoot] is how Go code
// talks about the same bytes with a readable type.
type rawExtent struct {
	Addr uint64
	Size uint64
}

// IndexRoot is a marker type: TypedAddress[IndexRoot]/Extent[IndexRoot]
// name "the address of a HAMT index root" without pstore needing run-time
// reflection to know what's there.
type IndexRoot struct{}

// trailerFixedSize is everything up to and including CRC; Signature2
// follows immediately after, outside the bytes the CRC covers.
const trailerFixedSize = 8 + 4 + 8 + 8 + 8 + NumIndices*16 + 4

// TrailerSize is the total on-disk size of a Trailer.
const TrailerSize = trailerFixedSize + 8

// Trailer is one committed revision's metadata record.
type Trailer struct {
	Generation     uint32
	Size           uint64
	Time           uint64
	PrevGeneration Address
	IndexRecords   [NumIndices]Extent[IndexRoot]
	CRC            uint32
}

// encode serialises t to exactly TrailerSize bytes, computing and storing
// the CRC over every preceding field.
func (t *Trailer) encode() []byte {
	buf := make([]byte, TrailerSize)
	off := 0
	copy(buf[off:], trailerSignature1[:])
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], t.Generation)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], t.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.Time)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.PrevGeneration))
	off += 8
	for _, e := range t.IndexRecords {
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.Addr.Addr))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.Size)
		off += 8
	}
	crc := CRC32IEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	t.CRC = crc
	off += 4
	copy(buf[off:], trailerSignature2[:])
	return buf
}

// decodeTrailer parses and validates a TrailerSize-byte buffer, checking
// both sentinel signatures and the CRC.
func decodeTrailer(buf []byte) (*Trailer, error) {
	if len(buf) != TrailerSize {
		return nil, ErrFooterCorrupt
	}
	off := 0
	var sig1 [8]byte
	copy(sig1[:], buf[off:off+8])
	if sig1 != trailerSignature1 {
		return nil, ErrFooterCorrupt
	}
	off += 8
	t := &Trailer{}
	t.Generation = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	t.Size = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Time = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.PrevGeneration = Address(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	for i := range t.IndexRecords {
		addr := Address(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		size := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		t.IndexRecords[i] = Extent[IndexRoot]{Addr: TypedAddress[IndexRoot]{Addr: addr}, Size: size}
	}
	storedCRC := binary.LittleEndian.Uint32(buf[off:])
	wantCRC := CRC32IEEE(buf[:off])
	off += 4
	var sig2 [8]byte
	copy(sig2[:], buf[off:off+8])
	if sig2 != trailerSignature2 {
		return nil, ErrFooterCorrupt
	}
	if storedCRC != wantCRC {
		return nil, ErrFooterCorrupt
	}
	t.CRC = storedCRC
	return t, nil
}

package pstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"strconv"

	"github.com/google/uuid"
)

// FNV64a returns the 64-bit FNV-1a hash of data, using the published
// offset basis 0xcbf29ce484222325 and prime 0x100000001b3.
func FNV64a(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// Uint128 is a 128-bit unsigned integer represented as two 64-bit limbs.
// Go has no native 128-bit integer type; this is the one canonical
// representation pstore uses everywhere a wide hash or digest is needed.
type Uint128 struct {
	High uint64
	Low  uint64
}

// Compare orders two Uint128 values lexicographically on (High, Low):
// -1, 0, 1.
func (u Uint128) Compare(o Uint128) int {
	if u.High != o.High {
		if u.High < o.High {
			return -1
		}
		return 1
	}
	switch {
	case u.Low < o.Low:
		return -1
	case u.Low > o.Low:
		return 1
	default:
		return 0
	}
}

// Less reports whether u orders before o.
func (u Uint128) Less(o Uint128) bool { return u.Compare(o) < 0 }

// IsZero reports whether u is the zero value.
func (u Uint128) IsZero() bool { return u.High == 0 && u.Low == 0 }

// Bytes encodes u as 16 big-endian bytes (High then Low).
func (u Uint128) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], u.High)
	binary.BigEndian.PutUint64(b[8:16], u.Low)
	return b
}

// Uint128FromBytes decodes 16 big-endian bytes produced by Bytes.
func Uint128FromBytes(b []byte) Uint128 {
	return Uint128{
		High: binary.BigEndian.Uint64(b[0:8]),
		Low:  binary.BigEndian.Uint64(b[8:16]),
	}
}

// Hex renders u as 32 lowercase hex digits.
func (u Uint128) Hex() string {
	return fmt.Sprintf("%016x%016x", u.High, u.Low)
}

// String implements fmt.Stringer.
func (u Uint128) String() string { return u.Hex() }

// ParseUint128 parses 32 lowercase (or uppercase) hex digits into a
// Uint128. Returns ErrBadDigest if s is not exactly 32 hex digits.
func ParseUint128(s string) (Uint128, error) {
	if len(s) != 32 {
		return Uint128{}, ErrBadDigest
	}
	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return Uint128{}, ErrBadDigest
	}
	lo, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return Uint128{}, ErrBadDigest
	}
	return Uint128{High: hi, Low: lo}, nil
}

// FNV128a returns the 128-bit FNV-1a hash of data, wrapped into a Uint128.
// Implemented atop stdlib hash/fnv's New128a (which already uses the
// published FNV-1a 128-bit offset basis and prime) so pstore never
// hand-rolls the wide multiply-and-xor loop itself — only the boundary
// conversion into pstore's own Uint128 is pstore's code.
func FNV128a(data []byte) Uint128 {
	h := fnv.New128a()
	h.Write(data)
	var sum [16]byte
	h.Sum(sum[:0])
	return Uint128FromBytes(sum[:])
}

// CRC32IEEE returns the standard IEEE-polynomial CRC-32 of data, as used
// to protect every Trailer.
func CRC32IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// NewFileUUID generates a new random file-instance identifier, written
// once into the Header at BuildNewStore time.
func NewFileUUID() [16]byte {
	id := uuid.New()
	var b [16]byte
	copy(b[:], id[:])
	return b
}

// ParseFileUUID parses a canonical UUID string into its 16-byte form.
func ParseFileUUID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("%w: %v", ErrUUIDParse, err)
	}
	var b [16]byte
	copy(b[:], id[:])
	return b, nil
}

// FormatFileUUID renders a 16-byte UUID in canonical string form.
func FormatFileUUID(b [16]byte) string {
	return uuid.UUID(b).String()
}

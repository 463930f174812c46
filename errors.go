// Package pstore implements a single-writer, many-reader, append-only,
// memory-mapped, content-addressed persistent data store.
//
// A process maps the store file into its address space and refers to data
// by byte offset ([Address]) rather than by pointer. Writes happen only
// inside a [Transaction], which appends new bytes at end-of-file; on
// commit a new immutable [Trailer] is linked into a singly-linked chain of
// revisions rooted in the file [Header], giving snapshot-isolated readers
// atomic visibility of a consistent prior state.
package pstore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store operations. Callers compare with
// errors.Is; wrapped errors (via IoError) still satisfy these comparisons.
var (
	// ErrStoreClosed is returned for an operation against a closed or
	// never-opened Database.
	ErrStoreClosed = errors.New("pstore: store is closed")

	// ErrReadOnly is returned when a mutation is attempted on a
	// read-only Database.
	ErrReadOnly = errors.New("pstore: store is open read-only")

	// ErrHeaderCorrupt is returned when the file header fails validation.
	ErrHeaderCorrupt = errors.New("pstore: header is corrupt")

	// ErrFooterCorrupt is returned when a trailer's signatures or CRC
	// fail validation while walking the revision chain.
	ErrFooterCorrupt = errors.New("pstore: footer is corrupt")

	// ErrIndexCorrupt is returned when a footer's index root extent
	// reaches past the end of the file, or when a HAMT node read from the
	// store is malformed (unknown node kind, null child address, or a
	// path deeper than the hash allows).
	ErrIndexCorrupt = errors.New("pstore: index is corrupt")

	// ErrHeaderVersionMismatch is returned when the on-disk format
	// version is not supported by this build.
	ErrHeaderVersionMismatch = errors.New("pstore: unsupported file format version")

	// ErrUnknownRevision is returned when a requested generation does
	// not exist in the revision chain.
	ErrUnknownRevision = errors.New("pstore: unknown revision")

	// ErrBadAddress is returned when addr+size overflows or exceeds the
	// file size.
	ErrBadAddress = errors.New("pstore: address out of range")

	// ErrBadAlignment is returned when an alignment is not a power of
	// two, or an address does not satisfy a type's alignment.
	ErrBadAlignment = errors.New("pstore: bad alignment")

	// ErrReadOnlyAddress is returned when a write is attempted against a
	// hardened (copy-on-write protected) range.
	ErrReadOnlyAddress = errors.New("pstore: address is read-only")

	// ErrCannotAllocateAfterCommit is returned when Allocate is called
	// on a transaction that has already committed or rolled back.
	ErrCannotAllocateAfterCommit = errors.New("pstore: cannot allocate after commit")

	// ErrShortRead is returned when a read returns fewer bytes than
	// requested.
	ErrShortRead = errors.New("pstore: short read")

	// ErrUUIDParse is returned when a stored or supplied UUID cannot be
	// parsed.
	ErrUUIDParse = errors.New("pstore: invalid uuid")

	// ErrBadDigest is returned when a digest key is the wrong length.
	ErrBadDigest = errors.New("pstore: invalid digest")

	// ErrBadVarint is returned when a varint is overlong, truncated, or
	// overflows 64 bits.
	ErrBadVarint = errors.New("pstore: invalid varint encoding")

	// ErrNotFound is returned by index lookups that find no entry for a
	// key.
	ErrNotFound = errors.New("pstore: key not found")

	// ErrWouldBlock is returned by Begin when another Transaction is
	// already live on the same Database handle. A busy lock seen by
	// TryLock or TryBegin is reported as (false, nil) or (nil, nil)
	// instead.
	ErrWouldBlock = errors.New("pstore: lock is held")
)

// IoError wraps an OS-level error (errno, Win32 code) that occurred during
// a named operation, preserving it for errors.Is/errors.As while giving a
// stable domain-facing message.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("pstore: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// wrapIO converts a raw OS error into an *IoError tagged with the
// operation that produced it. Returns nil if err is nil, so call sites can
// write `return wrapIO("mmap", err)` unconditionally.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Err: err}
}

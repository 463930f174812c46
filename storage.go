// Storage resolves an address to a borrowed or owned byte span, copying
// when a request spans regions and handing back a fresh buffer when the
// caller is about to overwrite the bytes.
package pstore

// Slice is a byte range returned by Storage.Get. It may alias a mapped
// region directly (Borrowed) or own a fresh buffer (spanning regions, or
// requested with initialised=false). Generation pins the RegionManager generation the slice was
// obtained in: if the mapping has grown since (Valid reports false), the
// caller must re-Get rather than trust Bytes, since a Grow may have
// replaced the underlying mapping.
type Slice struct {
	Bytes      []byte
	Borrowed   bool
	generation uint64
	mgr        *RegionManager
}

// Valid reports whether the mapping has not grown since this Slice was
// obtained. Owned (copied) slices are always valid; only borrowed slices
// can be invalidated by a subsequent allocation.
func (s Slice) Valid() bool {
	if !s.Borrowed {
		return true
	}
	return s.mgr == nil || s.mgr.Generation() == s.generation
}

// Storage is the narrow read/write surface the rest of the store (the
// archive layer, the HAMT, the string table) is built on.
type Storage struct {
	regions *RegionManager
}

// NewStorage wraps a RegionManager.
func NewStorage(regions *RegionManager) *Storage {
	return &Storage{regions: regions}
}

// Get resolves [addr, addr+size) to a Slice.
//
// initialised=false tells Storage the caller is about to overwrite these
// bytes (e.g. they were just allocated) so a copy-in is unnecessary: the
// returned Slice is a freshly allocated, zero-filled buffer of the right
// length that the caller fills in and then writes back via WriteAt.
//
// writable=true requires addr to lie at or above the region manager's
// read-only boundary (roBoundary); callers that want this check get
// ErrReadOnlyAddress instead of a SIGSEGV from slicing mmap'd read-only
// memory.
func (s *Storage) Get(addr Address, size uint64, initialised, writable bool) (Slice, error) {
	s.regions.mu.RLock()
	defer s.regions.mu.RUnlock()

	if uint64(addr)+size < uint64(addr) || uint64(addr)+size > s.regions.fileSize {
		return Slice{}, ErrBadAddress
	}

	spans, err := s.regions.spansLocked(addr, size)
	if err != nil {
		return Slice{}, err
	}

	if writable && uint64(addr) < s.regions.roBoundary.Load() {
		return Slice{}, ErrReadOnlyAddress
	}

	if len(spans) == 1 && initialised {
		sp := spans[0]
		return Slice{
			Bytes:      sp.r.data[sp.start:sp.end],
			Borrowed:   true,
			generation: s.regions.generation,
			mgr:        s.regions,
		}, nil
	}

	buf := make([]byte, size)
	if initialised {
		off := 0
		for _, sp := range spans {
			n := copy(buf[off:], sp.r.data[sp.start:sp.end])
			off += n
		}
	}
	return Slice{Bytes: buf, Borrowed: false}, nil
}

// WriteAt copies data into [addr, addr+len(data)) of storage, which must
// be writable, i.e. at or above roBoundary. Used to flush an owned Slice
// back, or to patch bytes directly. The header lies below roBoundary and
// is never written through here.
func (s *Storage) WriteAt(addr Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.regions.mu.RLock()
	spans, err := s.regions.spansLocked(addr, uint64(len(data)))
	s.regions.mu.RUnlock()
	if err != nil {
		return err
	}
	if uint64(addr) < s.regions.roBoundary.Load() {
		return ErrReadOnlyAddress
	}
	off := 0
	for _, sp := range spans {
		n := copy(sp.r.data[sp.start:sp.end], data[off:])
		off += n
	}
	return nil
}

// FileSize reports the current file size as seen by the backing region
// manager.
func (s *Storage) FileSize() uint64 {
	return s.regions.FileSize()
}

// Region manager: the set of memory-mapped regions covering
// [0, file_size) of an open store file.
//
// Regions tile the file without overlap or gap, in file-offset order, and
// are kept sorted so request_spans_regions can binary-search. Growing the
// file appends or extends the terminal region; it never splits an
// existing region. Platform mmap/mprotect/truncate calls live in
// region_unix.go/region_windows.go.
package pstore

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

// RegionMode selects a region's current page protection.
type RegionMode int

const (
	RegionReadOnly RegionMode = iota
	RegionReadWrite
)

// defaultFullRegionSize is the default "prefer fewer, larger regions"
// target on 64-bit hosts (nominally 1 GiB).
const defaultFullRegionSize = 1 << 30

// defaultMinRegionSize is the default floor on the first region's length
// when the full region size is configured smaller than it. No region
// extends past the file size, so a shorter file gets a shorter region.
const defaultMinRegionSize = 4 << 20

// region is one memory-mapped segment of the store file.
type region struct {
	data       []byte // mmap'd bytes, length == capacity of this region
	fileOffset uint64
	length     uint64
	mode       RegionMode
}

func (r *region) end() uint64 { return r.fileOffset + r.length }

// RegionManager owns the ordered, non-overlapping set of regions tiling
// [0, file_size). It is the sole owner of the process's mappings of the
// store file.
type RegionManager struct {
	mu             sync.RWMutex
	file           *os.File
	regions        []*region
	fileSize       uint64
	fullRegionSize uint64
	minRegionSize  uint64
	generation     uint64 // bumped on every Grow, to invalidate borrowed slices

	// roBoundary is the address below which every byte is hardened
	// read-only. Protect(first, last, RegionReadOnly) advances it to
	// last whenever first <= roBoundary (the only way the database ever
	// calls it); Storage.Get's writable check is a single comparison
	// against this instead of a per-region mode lookup, since a single
	// in-flight transaction's copy-on-write window can straddle a
	// region's existing (already-hardened) bytes and its freshly grown
	// tail within the very same mmap'd region.
	roBoundary atomic.Uint64
}

// OpenRegionManager creates regions tiling [0, size) of file. size must
// already reflect the file's on-disk length.
func OpenRegionManager(file *os.File, size uint64, fullRegionSize, minRegionSize uint64) (*RegionManager, error) {
	if fullRegionSize == 0 {
		fullRegionSize = defaultFullRegionSize
	}
	if minRegionSize == 0 {
		minRegionSize = defaultMinRegionSize
	}
	m := &RegionManager{
		file:           file,
		fullRegionSize: fullRegionSize,
		minRegionSize:  minRegionSize,
	}
	// Bytes before HeaderSize are the file header, never tracked by
	// roBoundary: the header is written in place by SetCrashIndicator/
	// SetFooterPos for the life of the database and is never reached
	// through Storage. The hardened watermark starts there rather than
	// at 0, so the first Protect(HeaderSize, fileSize, RegionReadOnly)
	// call in openExisting is contiguous with it and actually advances.
	m.roBoundary.Store(HeaderSize)
	if size > 0 {
		if err := m.mapRange(0, size); err != nil {
			return nil, err
		}
	}
	m.fileSize = size
	return m, nil
}

// Generation returns a counter bumped every time the mapping grows.
// Borrowed slices obtained from Storage.Get are only valid for the
// generation they were obtained in.
func (m *RegionManager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// FileSize returns the manager's current notion of file size.
func (m *RegionManager) FileSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fileSize
}

// mapRange extends region coverage to [0, newSize), appending regions for
// the newly covered span without touching already-mapped bytes below the
// previous size except for possibly extending the final (terminal) region
// up to fullRegionSize. Caller holds mu for write, or is the constructor.
func (m *RegionManager) mapRange(oldSize, newSize uint64) error {
	offset := oldSize
	if len(m.regions) > 0 {
		last := m.regions[len(m.regions)-1]
		if last.length < m.fullRegionSize {
			// Extend the terminal (not yet full-sized) region in place
			// by unmapping and remapping it larger. Never shrinks.
			grow := minUint64(m.fullRegionSize, newSize-last.fileOffset) - last.length
			if grow > 0 {
				if err := m.extendRegion(last, grow); err != nil {
					return err
				}
			}
			offset = last.end()
		}
	}
	for offset < newSize {
		length := minUint64(m.fullRegionSize, newSize-offset)
		if length < m.minRegionSize && offset == 0 {
			length = minUint64(m.minRegionSize, newSize)
		}
		r, err := m.newRegion(offset, length)
		if err != nil {
			return err
		}
		m.regions = append(m.regions, r)
		offset += length
	}
	return nil
}

// Grow extends the file to newSize and the region set to cover it.
func (m *RegionManager) Grow(newSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newSize <= m.fileSize {
		return nil
	}
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return wrapIO("ftruncate", err)
	}
	if err := m.mapRange(m.fileSize, newSize); err != nil {
		return err
	}
	m.fileSize = newSize
	m.generation++
	return nil
}

// Truncate shrinks the file to newSize (the rollback path). newSize must
// leave the header and sentinel footer intact; callers enforce that.
// Terminal regions beyond newSize are unmapped; a region straddling
// newSize is shortened in place.
func (m *RegionManager) Truncate(newSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newSize >= m.fileSize {
		return nil
	}
	kept := m.regions[:0:0]
	for _, r := range m.regions {
		if r.fileOffset >= newSize {
			if err := m.unmapRegion(r); err != nil {
				return err
			}
			continue
		}
		if r.end() > newSize {
			if err := m.shrinkRegion(r, newSize-r.fileOffset); err != nil {
				return err
			}
		}
		kept = append(kept, r)
	}
	m.regions = kept
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return wrapIO("ftruncate", err)
	}
	m.fileSize = newSize
	m.generation++
	for {
		old := m.roBoundary.Load()
		if old <= newSize || m.roBoundary.CompareAndSwap(old, newSize) {
			break
		}
	}
	return nil
}

// Protect changes page protection of the half-open range [first, last) to
// mode. Used by the database to harden committed pages read-only, and
// to open a read-write window for the bytes a transaction is about to
// dirty.
func (m *RegionManager) Protect(first, last Address, mode RegionMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last.Compare(first) <= 0 {
		return nil
	}
	lo, hi := uint64(first), uint64(last)
	for _, r := range m.regions {
		rs, re := r.fileOffset, r.end()
		if re <= lo || rs >= hi {
			continue
		}
		start := maxUint64(lo, rs) - rs
		end := minUint64(hi, re) - rs
		if err := m.protectRange(r, start, end, mode); err != nil {
			return err
		}
	}
	if mode == RegionReadOnly && lo <= m.roBoundary.Load() {
		for {
			old := m.roBoundary.Load()
			if hi <= old || m.roBoundary.CompareAndSwap(old, hi) {
				break
			}
		}
	}
	return nil
}

// RequestSpansRegions reports whether [addr, addr+length) touches two or
// more regions. O(log N) via binary search over region offsets.
func (m *RegionManager) RequestSpansRegions(addr Address, length uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.regionIndexLocked(uint64(addr))
	if idx < 0 {
		return false
	}
	r := m.regions[idx]
	return r.end() < uint64(addr)+length
}

// regionIndexLocked returns the index of the region containing offset, or
// -1 if none does. Caller holds mu.
func (m *RegionManager) regionIndexLocked(offset uint64) int {
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].end() > offset
	})
	if i >= len(m.regions) || m.regions[i].fileOffset > offset {
		return -1
	}
	return i
}

// spansLocked returns, for [addr, addr+length), the ordered list of
// (region, start, end) byte windows covering it, or an error if the range
// is not fully covered. Caller holds mu for read.
type regionSpan struct {
	r          *region
	start, end uint64 // offsets within r.data
}

func (m *RegionManager) spansLocked(addr Address, length uint64) ([]regionSpan, error) {
	if length == 0 {
		return nil, nil
	}
	lo := uint64(addr)
	hi := lo + length
	if hi < lo || hi > m.fileSize {
		return nil, ErrBadAddress
	}
	idx := m.regionIndexLocked(lo)
	if idx < 0 {
		return nil, ErrBadAddress
	}
	var spans []regionSpan
	remaining := hi - lo
	cur := lo
	for remaining > 0 {
		if idx >= len(m.regions) {
			return nil, ErrBadAddress
		}
		r := m.regions[idx]
		if r.fileOffset > cur {
			return nil, ErrBadAddress
		}
		start := cur - r.fileOffset
		avail := r.length - start
		take := minUint64(avail, remaining)
		spans = append(spans, regionSpan{r: r, start: start, end: start + take})
		cur += take
		remaining -= take
		idx++
	}
	return spans, nil
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

//go:build unix || linux || darwin

// mmap/mprotect/munmap backend for the region manager, grounded on
// other_examples/031b72b6_marmos91-dittofs__pkg-wal-mmap.go.go and
// other_examples/411128e7_marmos91-dittofs__pkg-cache-wal-mmap.go.go,
// which both persist via golang.org/x/sys/unix mmap-family calls.
package pstore

import (
	"golang.org/x/sys/unix"
)

// newRegion mmaps [offset, offset+length) of the file read-write (newly
// grown bytes are dirtied by the allocator before being hardened). A file
// opened read-only cannot back a shared writable mapping, so when the
// kernel refuses one with EACCES the region is mapped read-only instead.
func (m *RegionManager) newRegion(offset, length uint64) (*region, error) {
	data, err := unix.Mmap(int(m.file.Fd()), int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err == unix.EACCES {
		data, err = unix.Mmap(int(m.file.Fd()), int64(offset), int(length), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			return &region{data: data, fileOffset: offset, length: length, mode: RegionReadOnly}, nil
		}
	}
	if err != nil {
		return nil, wrapIO("mmap", err)
	}
	return &region{data: data, fileOffset: offset, length: length, mode: RegionReadWrite}, nil
}

// extendRegion replaces r's mapping with one grow bytes larger. The new
// mapping is always read-write: any previously hardened bytes it still
// covers get re-hardened by RegionManager.roBoundary's next Protect call
// rather than by remembering a per-region mode across the remap (a region
// straddles roBoundary whenever an in-flight transaction has just grown a
// region that already held committed, read-only-hardened bytes).
func (m *RegionManager) extendRegion(r *region, grow uint64) error {
	if err := unix.Munmap(r.data); err != nil {
		return wrapIO("munmap", err)
	}
	newLen := r.length + grow
	data, err := unix.Mmap(int(m.file.Fd()), int64(r.fileOffset), int(newLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapIO("mmap", err)
	}
	r.data = data
	r.length = newLen
	r.mode = RegionReadWrite
	return nil
}

// shrinkRegion replaces r's mapping with a shorter one, used on rollback.
func (m *RegionManager) shrinkRegion(r *region, newLen uint64) error {
	if err := unix.Munmap(r.data); err != nil {
		return wrapIO("munmap", err)
	}
	data, err := unix.Mmap(int(m.file.Fd()), int64(r.fileOffset), int(newLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapIO("mmap", err)
	}
	r.data = data
	r.length = newLen
	r.mode = RegionReadWrite
	return nil
}

func (m *RegionManager) unmapRegion(r *region) error {
	if err := unix.Munmap(r.data); err != nil {
		return wrapIO("munmap", err)
	}
	return nil
}

// protectRange changes protection of r.data[start:end] to mode, rounding
// out to whole pages as mprotect requires. The two directions round
// differently: widening a read-write window (start floored) must cover
// every byte the caller is about to dirty, including the rest of the
// page start falls in; hardening a range read-only (start ceilinged)
// must never walk backward into the previous page, since bytes before
// start there — region 0's file header, or an earlier transaction's
// still-writable tail — are not meant to be protected. Rounding the end
// outward is always safe in either direction: the extra bytes covered
// are either already read-only committed bytes or reserved bytes beyond
// file_size that are never read.
func (m *RegionManager) protectRange(r *region, start, end uint64, mode RegionMode) error {
	pageSize := uint64(unix.Getpagesize())
	var alignedStart uint64
	if mode == RegionReadOnly {
		alignedStart = alignUp(start, pageSize)
	} else {
		alignedStart = start &^ (pageSize - 1)
	}
	alignedEnd := alignUp(end, pageSize)
	if alignedEnd > uint64(len(r.data)) {
		alignedEnd = uint64(len(r.data))
	}
	if alignedStart >= alignedEnd {
		return nil
	}
	prot := unix.PROT_READ
	if mode == RegionReadWrite {
		prot |= unix.PROT_WRITE
	}
	if err := unix.Mprotect(r.data[alignedStart:alignedEnd], prot); err != nil {
		return wrapIO("mprotect", err)
	}
	if alignedStart == 0 && alignedEnd == uint64(len(r.data)) {
		r.mode = mode
	}
	return nil
}

// msync flushes dirty pages of [addr, addr+length) to disk, used by
// Transaction.Commit before publishing the new footer address.
func (m *RegionManager) msync(addr Address, length uint64) error {
	m.mu.RLock()
	spans, err := m.spansLocked(addr, length)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, sp := range spans {
		if err := unix.Msync(sp.r.data, unix.MS_SYNC); err != nil {
			return wrapIO("msync", err)
		}
	}
	return nil
}

//go:build windows

// CreateFileMapping/MapViewOfFile backend for the region manager. Windows
// has no mprotect-on-a-slice equivalent as clean as POSIX mmap, so this
// reaches for raw syscall + LazyDLL rather than inventing a fake
// abstraction.
package pstore

import (
	"syscall"
	"unsafe"
)

// modkernel32 is declared in lock_windows.go.
var (
	procCreateFileMapping = modkernel32.NewProc("CreateFileMappingW")
	procMapViewOfFile     = modkernel32.NewProc("MapViewOfFile")
	procUnmapViewOfFile   = modkernel32.NewProc("UnmapViewOfFile")
	procVirtualProtect    = modkernel32.NewProc("VirtualProtect")
	procFlushViewOfFile   = modkernel32.NewProc("FlushViewOfFile")
)

const (
	pageReadwrite      = 0x04
	pageReadonly       = 0x02
	fileMapWrite       = 0x0002
	fileMapRead        = 0x0004
	invalidHandleValue = ^uintptr(0)

	// windowsPageSize is the allocation granularity VirtualProtect rounds
	// to on every shipping Windows release; there is no portable way to
	// query anything finer than GetSystemInfo's dwPageSize, which reports
	// this same value.
	windowsPageSize = 4096
)

func (m *RegionManager) newRegion(offset, length uint64) (*region, error) {
	h := syscall.Handle(m.file.Fd())
	mapping, _, err := procCreateFileMapping.Call(
		uintptr(h), 0, pageReadwrite,
		uintptr(uint32((offset+length)>>32)), uintptr(uint32(offset+length)), 0)
	if mapping == 0 {
		return nil, wrapIO("CreateFileMappingW", err)
	}
	addr, _, err := procMapViewOfFile.Call(
		mapping, fileMapRead|fileMapWrite,
		uintptr(uint32(offset>>32)), uintptr(uint32(offset)), uintptr(length))
	if addr == 0 {
		return nil, wrapIO("MapViewOfFile", err)
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
	return &region{data: data, fileOffset: offset, length: length, mode: RegionReadWrite}, nil
}

func (m *RegionManager) extendRegion(r *region, grow uint64) error {
	if err := m.unmapRegion(r); err != nil {
		return err
	}
	nr, err := m.newRegion(r.fileOffset, r.length+grow)
	if err != nil {
		return err
	}
	*r = *nr
	return nil
}

func (m *RegionManager) shrinkRegion(r *region, newLen uint64) error {
	if err := m.unmapRegion(r); err != nil {
		return err
	}
	nr, err := m.newRegion(r.fileOffset, newLen)
	if err != nil {
		return err
	}
	*r = *nr
	return nil
}

func (m *RegionManager) unmapRegion(r *region) error {
	_, _, err := procUnmapViewOfFile.Call(uintptr(unsafe.Pointer(&r.data[0])))
	_ = err
	return nil
}

// protectRange changes protection of r.data[start:end] to mode.
// VirtualProtect always affects whole pages; start is rounded to match,
// floored when opening a read-write window (the byte at start must end
// up writable) and ceilinged when hardening read-only (hardening must
// never walk backward into the previous page, which can hold the file
// header or another transaction's still-writable tail).
func (m *RegionManager) protectRange(r *region, start, end uint64, mode RegionMode) error {
	var alignedStart uint64
	if mode == RegionReadOnly {
		alignedStart = alignUp(start, windowsPageSize)
	} else {
		alignedStart = start &^ (windowsPageSize - 1)
	}
	alignedEnd := alignUp(end, windowsPageSize)
	if alignedEnd > uint64(len(r.data)) {
		alignedEnd = uint64(len(r.data))
	}
	if alignedStart >= alignedEnd {
		return nil
	}
	prot := uintptr(pageReadonly)
	if mode == RegionReadWrite {
		prot = pageReadwrite
	}
	var old uint32
	r1, _, err := procVirtualProtect.Call(
		uintptr(unsafe.Pointer(&r.data[alignedStart])), uintptr(alignedEnd-alignedStart), prot, uintptr(unsafe.Pointer(&old)))
	if r1 == 0 {
		return wrapIO("VirtualProtect", err)
	}
	if alignedStart == 0 && alignedEnd == uint64(len(r.data)) {
		r.mode = mode
	}
	return nil
}

func (m *RegionManager) msync(addr Address, length uint64) error {
	m.mu.RLock()
	spans, err := m.spansLocked(addr, length)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, sp := range spans {
		procFlushViewOfFile.Call(uintptr(unsafe.Pointer(&sp.r.data[0])), uintptr(len(sp.r.data)))
	}
	return nil
}

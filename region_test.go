package pstore

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestRegionFile(t *testing.T, size uint64) (*os.File, *RegionManager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	m, err := OpenRegionManager(f, size, 0, 0)
	if err != nil {
		t.Fatalf("OpenRegionManager: %v", err)
	}
	t.Cleanup(func() {
		for i := len(m.regions) - 1; i >= 0; i-- {
			m.unmapRegion(m.regions[i])
		}
		f.Close()
	})
	return f, m
}

func TestRegionManagerGrow(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	gen0 := m.Generation()
	if err := m.Grow(defaultMinRegionSize * 2); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if m.FileSize() != defaultMinRegionSize*2 {
		t.Errorf("FileSize = %d, want %d", m.FileSize(), defaultMinRegionSize*2)
	}
	if m.Generation() == gen0 {
		t.Error("Generation should advance after Grow")
	}
}

func TestRegionManagerSpansSingleRegion(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	m.mu.RLock()
	spans, err := m.spansLocked(Address(10), 20)
	m.mu.RUnlock()
	if err != nil {
		t.Fatalf("spansLocked: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].start != 10 || spans[0].end != 30 {
		t.Errorf("span = [%d,%d), want [10,30)", spans[0].start, spans[0].end)
	}
}

func TestRegionManagerSpansOutOfRange(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	m.mu.RLock()
	_, err := m.spansLocked(Address(defaultMinRegionSize-1), 10)
	m.mu.RUnlock()
	if err != ErrBadAddress {
		t.Errorf("got %v, want ErrBadAddress", err)
	}
}

func TestRegionManagerProtectEnforcesReadOnly(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	if err := m.Protect(0, Address(m.FileSize()), RegionReadOnly); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if m.roBoundary.Load() != m.FileSize() {
		t.Errorf("roBoundary = %d, want %d", m.roBoundary.Load(), m.FileSize())
	}
}

func TestRegionManagerTruncateShrinksBoundary(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	if err := m.Grow(defaultMinRegionSize * 2); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := m.Protect(0, Address(m.FileSize()), RegionReadOnly); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if err := m.Truncate(defaultMinRegionSize); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if m.roBoundary.Load() != defaultMinRegionSize {
		t.Errorf("roBoundary = %d, want %d", m.roBoundary.Load(), defaultMinRegionSize)
	}
}

func TestRegionManagerRequestSpansRegions(t *testing.T) {
	_, m := openTestRegionFile(t, defaultMinRegionSize)
	if m.RequestSpansRegions(Address(0), 16) {
		t.Error("a small request inside one region should not span regions")
	}
}

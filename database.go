// Database: file header/footer I/O, revision selection, copy-on-write
// page protection, and the bump-pointer allocator transactions draw from.
package pstore

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// OpenMode selects whether a Database may begin transactions.
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenReadWrite
)

// Config configures a Database with zero-value defaults resolved by
// withDefaults, covering region sizing and sync behaviour.
type Config struct {
	// FullRegionSize is the preferred region size on 64-bit hosts
	// (default 1 GiB).
	FullRegionSize uint64
	// MinRegionSize is the floor on the first region's length when
	// FullRegionSize is smaller than it (default 4 MiB). No region
	// extends past the file size, so a file shorter than this is mapped
	// by a shorter region.
	MinRegionSize uint64
	// SyncOnCommit adds a full-file fsync to every commit, after the new
	// footer_pos has been published and the header flushed (durability at
	// the cost of commit latency). Commit always msyncs the dirtied range
	// and the header; this only controls the *additional* full-file sync.
	SyncOnCommit bool
}

func (c Config) withDefaults() Config {
	if c.FullRegionSize == 0 {
		c.FullRegionSize = defaultFullRegionSize
	}
	if c.MinRegionSize == 0 {
		c.MinRegionSize = defaultMinRegionSize
	}
	return c
}

const (
	dbStateOpen int32 = iota
	dbStateClosed
)

// Database is one process's open handle on a pstore file.
type Database struct {
	file    *os.File
	regions *RegionManager
	storage *Storage
	header  *Header
	mode    OpenMode
	config  Config
	txLock  TransactionLock

	mu    sync.Mutex // serialises allocate() bump-pointer updates
	state atomic.Int32

	inTx bool // true while a Transaction is live, guarded by mu
}

// BuildNewStore creates a brand-new store file at path, writing the
// header and the sentinel generation-0 footer, and opens it read-write.
func BuildNewStore(path string, config Config) (*Database, error) {
	config = config.withDefaults()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, wrapIO("open", err)
	}

	fileUUID := NewFileUUID()
	hdr := encodeNewHeader(fileUUID, 0)
	sentinel := &Trailer{Generation: 0, PrevGeneration: NullAddress}
	footerBytes := sentinel.encode()

	size := uint64(HeaderSize + TrailerSize)
	buf := make([]byte, size)
	copy(buf, hdr)
	copy(buf[HeaderSize:], footerBytes)
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return nil, wrapIO("write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, wrapIO("fsync", err)
	}

	return openExisting(f, path, OpenReadWrite, config)
}

// Open opens an existing store file, validating the header and walking
// the footer chain from footer_pos to generation 0.
func Open(path string, mode OpenMode, config Config) (*Database, error) {
	config = config.withDefaults()
	flag := os.O_RDONLY
	if mode == OpenReadWrite {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, wrapIO("open", err)
	}
	return openExisting(f, path, mode, config)
}

func openExisting(f *os.File, path string, mode OpenMode, config Config) (*Database, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIO("stat", err)
	}
	size := uint64(info.Size())
	if size < uint64(HeaderSize+TrailerSize) {
		f.Close()
		return nil, ErrHeaderCorrupt
	}

	regions, err := OpenRegionManager(f, size, config.FullRegionSize, config.MinRegionSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	storage := NewStorage(regions)

	hdrSlice, err := storage.Get(0, HeaderSize, true, false)
	if err != nil {
		regions.Truncate(0)
		f.Close()
		return nil, err
	}
	hdr := newHeaderView(hdrSlice.Bytes)
	if err := validateHeader(hdr); err != nil {
		f.Close()
		return nil, err
	}

	db := &Database{
		file:    f,
		regions: regions,
		storage: storage,
		header:  hdr,
		mode:    mode,
		config:  config,
		txLock:  newFileLock(f),
	}

	if err := db.recoverIfNeeded(); err != nil {
		f.Close()
		return nil, err
	}

	if err := db.verifyChain(); err != nil {
		f.Close()
		return nil, err
	}

	// Harden every existing byte except the header: footer_pos and the
	// crash indicator are the two fields a writer updates in place, and
	// they live inside the header, not at the end-of-file the allocator
	// extends. Everything from HeaderSize onward is immutable history
	// and should never be written to again outside the allocator.
	if err := db.regions.Protect(HeaderSize, Address(db.regions.FileSize()), RegionReadOnly); err != nil {
		f.Close()
		return nil, err
	}

	return db, nil
}

// recoverIfNeeded implements crash recovery: a nonzero crash indicator
// with no successful commit means a writer died mid-transaction.
// Truncate back to the size recorded by the last reachable footer so
// trailing garbage is discarded.
func (db *Database) recoverIfNeeded() error {
	if db.header.CrashIndicator() == 0 {
		return nil
	}
	if db.mode != OpenReadWrite {
		// A read-only opener can't safely truncate; it simply reads the
		// (still CRC-valid) prior footer chain and ignores any trailing
		// bytes the footer_pos pointer doesn't reach.
		return nil
	}
	footerAddr := db.header.FooterPos()
	end := uint64(footerAddr) + TrailerSize
	if end < db.regions.FileSize() {
		if err := db.regions.Truncate(end); err != nil {
			return err
		}
	}
	db.header.SetCrashIndicator(0)
	return nil
}

// verifyChain walks footer_pos → prev_generation → … → generation 0,
// checking CRC, signatures, strictly decreasing generations, and that
// every index root extent lies inside the file.
func (db *Database) verifyChain() error {
	addr := db.header.FooterPos()
	var lastGen int64 = -1
	seen := 0
	for {
		if uint64(addr)+TrailerSize > db.regions.FileSize() {
			return ErrFooterCorrupt
		}
		slice, err := db.storage.Get(addr, TrailerSize, true, false)
		if err != nil {
			return err
		}
		t, err := decodeTrailer(slice.Bytes)
		if err != nil {
			return ErrFooterCorrupt
		}
		if lastGen != -1 && int64(t.Generation) != lastGen-1 {
			return ErrFooterCorrupt
		}
		lastGen = int64(t.Generation)
		for _, rec := range t.IndexRecords {
			end := uint64(rec.Addr.Addr) + rec.Size
			if end < rec.Size || end > db.regions.FileSize() {
				return ErrIndexCorrupt
			}
		}
		seen++
		if t.Generation == 0 {
			if !t.PrevGeneration.IsNull() {
				return ErrFooterCorrupt
			}
			break
		}
		if t.PrevGeneration.IsNull() {
			return ErrFooterCorrupt
		}
		addr = t.PrevGeneration
		if seen > 1<<24 {
			return ErrFooterCorrupt // pathological chain length guard
		}
	}
	return nil
}

// Close unmaps all regions and closes the underlying file.
func (db *Database) Close() error {
	if !db.state.CompareAndSwap(dbStateOpen, dbStateClosed) {
		return nil
	}
	db.txLock.Unlock()
	if fl, ok := db.txLock.(*fileLock); ok {
		fl.setFile(nil)
	}
	var firstErr error
	for i := len(db.regions.regions) - 1; i >= 0; i-- {
		r := db.regions.regions[i]
		if err := db.regions.unmapRegion(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Size returns the current file size (the end-of-file bump pointer).
func (db *Database) Size() uint64 { return db.regions.FileSize() }

// Mode reports whether this handle may begin transactions.
func (db *Database) Mode() OpenMode { return db.mode }

// Storage exposes the read path used by indices and the archive layer.
func (db *Database) Storage() *Storage { return db.storage }

func (db *Database) closed() bool { return db.state.Load() == dbStateClosed }

// Snapshot pins one revision (by footer address) for lock-free reading,
// independent of whatever the writer does afterward.
type Snapshot struct {
	db         *Database
	footerAddr Address
	footer     *Trailer
}

// Head pins whatever footer_pos currently names.
func (db *Database) Head() (*Snapshot, error) {
	if db.closed() {
		return nil, ErrStoreClosed
	}
	addr := db.header.FooterPos()
	return db.pin(addr)
}

// Revision pins a specific generation, walking the chain from the current
// head. Returns ErrUnknownRevision if generation is not reachable.
func (db *Database) Revision(generation uint32) (*Snapshot, error) {
	if db.closed() {
		return nil, ErrStoreClosed
	}
	addr := db.header.FooterPos()
	for {
		slice, err := db.storage.Get(addr, TrailerSize, true, false)
		if err != nil {
			return nil, err
		}
		t, err := decodeTrailer(slice.Bytes)
		if err != nil {
			return nil, ErrFooterCorrupt
		}
		if t.Generation == generation {
			return &Snapshot{db: db, footerAddr: addr, footer: t}, nil
		}
		if t.Generation == 0 {
			return nil, ErrUnknownRevision
		}
		addr = t.PrevGeneration
	}
}

func (db *Database) pin(addr Address) (*Snapshot, error) {
	slice, err := db.storage.Get(addr, TrailerSize, true, false)
	if err != nil {
		return nil, err
	}
	t, err := decodeTrailer(slice.Bytes)
	if err != nil {
		return nil, ErrFooterCorrupt
	}
	return &Snapshot{db: db, footerAddr: addr, footer: t}, nil
}

// Generation returns the pinned revision's generation number.
func (s *Snapshot) Generation() uint32 { return s.footer.Generation }

// FooterAddr returns the absolute address of the pinned footer.
func (s *Snapshot) FooterAddr() Address { return s.footerAddr }

// Time returns the commit timestamp (ms since epoch) of the pinned revision.
func (s *Snapshot) Time() time.Time {
	return time.UnixMilli(int64(s.footer.Time))
}

// IndexRoot returns the root extent this revision recorded for the given
// named index slot (IndexDigest or IndexName).
func (s *Snapshot) IndexRoot(which int) Extent[IndexRoot] {
	return s.footer.IndexRecords[which]
}

// Storage exposes the read path for lookups against this snapshot.
func (s *Snapshot) Storage() *Storage { return s.db.Storage() }

// FragmentIndex opens the content-addressed digest→fragment index rooted
// at this snapshot's revision.
func (s *Snapshot) FragmentIndex() *FragmentIndex {
	return OpenFragmentIndex(s.Storage(), s.IndexRoot(IndexDigest))
}

// StringTable opens the indirect-string table rooted at this snapshot's
// revision.
func (s *Snapshot) StringTable() *StringTable {
	return OpenStringTable(s.Storage(), s.IndexRoot(IndexName))
}

// OpenFragmentIndex opens, for mutation under tx, the fragment index as
// of the revision tx is superseding, and registers it so Commit flushes
// its dirty nodes into the new footer's IndexDigest slot.
func (db *Database) OpenFragmentIndex(tx *Transaction) (*FragmentIndex, error) {
	snap, err := db.pin(tx.PrevFooter())
	if err != nil {
		return nil, err
	}
	fi := OpenFragmentIndex(db.storage, snap.IndexRoot(IndexDigest))
	tx.Register(IndexDigest, fi)
	return fi, nil
}

// OpenStringTable opens, for mutation under tx, the string table as of
// the revision tx is superseding, and registers it so Commit flushes its
// dirty nodes into the new footer's IndexName slot.
func (db *Database) OpenStringTable(tx *Transaction) (*StringTable, error) {
	snap, err := db.pin(tx.PrevFooter())
	if err != nil {
		return nil, err
	}
	st := OpenStringTable(db.storage, snap.IndexRoot(IndexName))
	tx.Register(IndexName, st)
	return st, nil
}

// allocate is the bump-pointer allocator: rounds the current end-of-file
// up to align, grows the region manager as needed, and returns the
// aligned address. Only ever called while db.inTx is true (enforced by
// Transaction).
func (db *Database) allocate(size, align uint64) (Address, error) {
	if !IsPowerOfTwo(align) {
		return NullAddress, ErrBadAlignment
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	current := db.regions.FileSize()
	aligned := alignUp(current, align)
	newSize := aligned + size
	if newSize > current {
		if err := db.regions.Grow(newSize); err != nil {
			return NullAddress, err
		}
	}
	return Address(aligned), nil
}

// beginWriter marks the database as having a live transaction; Transaction
// clears this on commit/rollback. Guards against two Transactions being
// begun concurrently against the same in-process Database handle (the
// cross-process guarantee comes from txLock itself).
func (db *Database) beginWriter() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.mode != OpenReadWrite {
		return ErrReadOnly
	}
	if db.inTx {
		return ErrWouldBlock
	}
	db.inTx = true
	return nil
}

func (db *Database) endWriter() {
	db.mu.Lock()
	db.inTx = false
	db.mu.Unlock()
}

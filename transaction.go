// Transaction: the scoped writer. Acquires the transaction lock, tracks
// what it allocates, and on commit builds and links a new Trailer
// atomically; on rollback it truncates the file back to where it found it.
package pstore

import (
	"sync"
	"time"
)

type txState int

const (
	txIdle txState = iota
	txLocked
	txDirty
	txDone
)

// flusher is an index (HAMTIndex, StringTable, ...) that owes the
// transaction a root extent at commit time. Registered via
// Transaction.Register; Commit's first step calls each in turn.
type flusher interface {
	flush(tx *Transaction, generation uint32) (Extent[IndexRoot], error)
}

// Transaction is a single writer's exclusively owned handle on a Database.
// Dropping it (calling neither Commit nor Rollback) leaves the lock held
// until Rollback is called explicitly; pstore does not rely on a Go
// finalizer to release it.
type Transaction struct {
	mu sync.Mutex

	db    *Database
	state txState

	dbSizeAtBegin uint64
	firstAddr     Address // NullAddress until the first allocate
	bytesAppended uint64

	indices [NumIndices]flusher
}

// Begin blocks until the transaction lock is acquired. It does not wait
// for a Transaction already live on the same Database handle: in that
// case it returns ErrWouldBlock at once.
func Begin(db *Database) (*Transaction, error) {
	return begin(db, true)
}

// TryBegin acquires the transaction lock without blocking, returning
// (nil, nil) if it is already held (by this process or another).
func TryBegin(db *Database) (*Transaction, error) {
	return begin(db, false)
}

func begin(db *Database, block bool) (*Transaction, error) {
	if db.closed() {
		return nil, ErrStoreClosed
	}
	if err := db.beginWriter(); err != nil {
		if !block && err == ErrWouldBlock {
			return nil, nil
		}
		return nil, err
	}

	if block {
		if err := db.txLock.Lock(); err != nil {
			db.endWriter()
			return nil, err
		}
	} else {
		ok, err := db.txLock.TryLock()
		if err != nil {
			db.endWriter()
			return nil, err
		}
		if !ok {
			db.endWriter()
			return nil, nil
		}
	}

	db.header.SetCrashIndicator(1)

	return &Transaction{
		db:            db,
		state:         txLocked,
		dbSizeAtBegin: db.Size(),
		firstAddr:     NullAddress,
	}, nil
}

// Register associates an index with one of the two fixed footer slots
// (IndexDigest or IndexName) so Commit calls its flush method.
func (tx *Transaction) Register(slot int, f flusher) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.indices[slot] = f
}

// Allocate draws size bytes aligned to align from the end of the file,
// opening the copy-on-write window on the first call of the transaction's
// lifetime.
func (tx *Transaction) Allocate(size, align uint64) (Address, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == txDone {
		return NullAddress, ErrCannotAllocateAfterCommit
	}
	addr, err := tx.allocateLocked(size, align)
	if err != nil {
		return NullAddress, err
	}
	tx.state = txDirty
	return addr, nil
}

// Storage exposes the read path, for indices to read committed nodes
// they're about to copy-on-write.
func (tx *Transaction) Storage() *Storage { return tx.db.Storage() }

// PrevFooter returns the address of the revision this transaction will
// supersede.
func (tx *Transaction) PrevFooter() Address {
	return tx.db.header.FooterPos()
}

// Commit implements the eight-step commit protocol: flush indices,
// allocate and encode the trailer, write it, msync the dirtied range,
// publish footer_pos, msync the header, re-harden the committed range
// read-only, then release the transaction lock.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == txDone {
		return nil
	}

	prevAddr := tx.db.header.FooterPos()
	prevSlice, err := tx.db.storage.Get(prevAddr, TrailerSize, true, false)
	if err != nil {
		return err
	}
	prev, err := decodeTrailer(prevSlice.Bytes)
	if err != nil {
		return ErrFooterCorrupt
	}

	trailer := &Trailer{
		Generation:     prev.Generation + 1,
		Time:           uint64(time.Now().UnixMilli()),
		PrevGeneration: prevAddr,
	}

	// Step 1: flush each registered index. This can itself allocate (new
	// index nodes are appended before the trailer), so bytesAppended is
	// only final once every index has flushed.
	for slot, idx := range tx.indices {
		if idx == nil {
			trailer.IndexRecords[slot] = prev.IndexRecords[slot]
			continue
		}
		root, err := idx.flush(tx, trailer.Generation)
		if err != nil {
			return err
		}
		trailer.IndexRecords[slot] = root
	}
	trailer.Size = tx.bytesAppended

	// Step 2+3: allocate and encode the trailer (encode computes the CRC).
	footerAddr, err := tx.allocateLocked(TrailerSize, 8)
	if err != nil {
		return err
	}
	buf := trailer.encode()

	footerSlice, err := tx.db.storage.Get(footerAddr, TrailerSize, false, true)
	if err != nil {
		return err
	}
	copy(footerSlice.Bytes, buf)
	if !footerSlice.Borrowed {
		if err := tx.db.storage.WriteAt(footerAddr, footerSlice.Bytes); err != nil {
			return err
		}
	}

	newFooterEnd := uint64(footerAddr) + TrailerSize

	// Step 4: flush the dirtied range to disk.
	if err := tx.db.regions.msync(tx.firstAddr, newFooterEnd-uint64(tx.firstAddr)); err != nil {
		return err
	}

	// Step 5: release-store the new footer address.
	tx.db.header.SetFooterPos(footerAddr)

	// Step 6: flush the header.
	if err := tx.db.regions.msync(0, HeaderSize); err != nil {
		return err
	}

	// Crash indicator goes to clean only after the pointer swap is durable,
	// so a crash between steps 5 and here still triggers recovery, which is
	// harmless: recovery against an already-consistent chain is a no-op
	// truncate to the (correct) current size.
	tx.db.header.SetCrashIndicator(0)
	if err := tx.db.regions.msync(0, HeaderSize); err != nil {
		return err
	}

	if tx.db.config.SyncOnCommit {
		if err := tx.db.file.Sync(); err != nil {
			return wrapIO("fsync", err)
		}
	}

	// Step 7: re-harden everything this transaction touched.
	if err := tx.db.regions.Protect(tx.firstAddr, Address(newFooterEnd), RegionReadOnly); err != nil {
		return err
	}

	// Step 8: release the lock.
	tx.release()
	tx.state = txDone
	return nil
}

// allocateLocked is Allocate's body without re-acquiring tx.mu, used
// internally by Commit which already holds it.
func (tx *Transaction) allocateLocked(size, align uint64) (Address, error) {
	addr, err := tx.db.allocate(size, align)
	if err != nil {
		return NullAddress, err
	}
	if tx.firstAddr.IsNull() {
		tx.firstAddr = addr
	}
	if end := Address(tx.db.Size()); uint64(end) > uint64(tx.firstAddr) {
		if err := tx.db.regions.Protect(tx.firstAddr, end, RegionReadWrite); err != nil {
			return NullAddress, err
		}
	}
	tx.bytesAppended = uint64(addr) + size - uint64(tx.firstAddr)
	return addr, nil
}

// Rollback discards everything allocated since Begin, truncating the file
// back to its pre-transaction size, and releases the lock. Idempotent.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == txDone {
		return nil
	}
	if !tx.firstAddr.IsNull() {
		if err := tx.db.regions.Truncate(tx.dbSizeAtBegin); err != nil {
			return err
		}
	}
	tx.db.header.SetCrashIndicator(0)
	tx.release()
	tx.state = txDone
	return nil
}

func (tx *Transaction) release() {
	tx.db.txLock.Unlock()
	tx.db.endWriter()
}

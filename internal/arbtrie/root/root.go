// Package root implements the root object table: 1024 atomic addresses,
// each the anchor of one independently reachable trie, paired with a
// reader-writer lock for read/update access and a writer mutex so at most
// one multi-operation transaction is ever in flight against a given slot.
package root

import (
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// SlotCount is the fixed number of root slots, per spec.md §3.7.
const SlotCount = 1024

type slot struct {
	addr     atomic.Uint32
	rw       sync.RWMutex
	writerMu sync.Mutex
}

// SyncFunc durably persists the root table's current contents at the
// given sync level; supplied by the engine facade, which owns the root
// file. Table itself holds no file handle — it only orders access to the
// 1024 in-memory slots.
type SyncFunc func(level options.SyncMode) error

// Table is the root object table: SlotCount independently lockable
// address slots.
type Table struct {
	slots   [SlotCount]slot
	cbTable *cb.Table
	sync    SyncFunc
}

// New constructs an empty root table. cbTable is used to retain/release
// addresses as they're published into or evicted from a slot; sync
// persists the table after any durable update.
func New(cbTable *cb.Table, sync SyncFunc) *Table {
	return &Table{cbTable: cbTable, sync: sync}
}

func (t *Table) checkSlot(i int) error {
	if i < 0 || i >= SlotCount {
		return errors.NewFieldRangeError("root slot index", i, 0, SlotCount-1)
	}
	return nil
}

// Get shared-locks slot i, loads its address, retains it, and returns it.
func (t *Table) Get(i int) (cb.Address, error) {
	if err := t.checkSlot(i); err != nil {
		return 0, err
	}
	s := &t.slots[i]
	s.rw.RLock()
	defer s.rw.RUnlock()

	addr := cb.Address(s.addr.Load())
	if addr != 0 {
		if block := t.cbTable.Get(addr); block != nil {
			block.Retain()
		}
	}
	return addr, nil
}

// Set takes slot i's writer mutex and exclusive lock, exchanges its address
// for new, syncs at the given level, and returns the prior address (still
// retained; the caller owns releasing it).
func (t *Table) Set(i int, newAddr cb.Address, level options.SyncMode) (cb.Address, error) {
	if err := t.checkSlot(i); err != nil {
		return 0, err
	}
	s := &t.slots[i]
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	s.rw.Lock()
	defer s.rw.Unlock()

	prior := cb.Address(s.addr.Load())
	s.addr.Store(uint32(newAddr))

	if t.sync != nil {
		if err := t.sync(level); err != nil {
			return prior, err
		}
	}
	return prior, nil
}

// CasRoot takes slot i's writer mutex and exclusive lock, exchanges its
// address from expect to desire, and syncs on success. It reports whether
// the exchange happened.
func (t *Table) CasRoot(i int, expect, desire cb.Address, level options.SyncMode) (bool, error) {
	if err := t.checkSlot(i); err != nil {
		return false, err
	}
	s := &t.slots[i]
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	s.rw.Lock()
	defer s.rw.Unlock()

	if !s.addr.CompareAndSwap(uint32(expect), uint32(desire)) {
		return false, nil
	}
	if t.sync != nil {
		if err := t.sync(level); err != nil {
			return true, err
		}
	}
	return true, nil
}

// StartTransaction acquires slot i's writer mutex (blocking until any
// other in-flight transaction against this slot commits or aborts) and
// returns the slot's current address, retained.
func (t *Table) StartTransaction(i int) (cb.Address, error) {
	if err := t.checkSlot(i); err != nil {
		return 0, err
	}
	s := &t.slots[i]
	s.writerMu.Lock()

	addr := cb.Address(s.addr.Load())
	if addr != 0 {
		if block := t.cbTable.Get(addr); block != nil {
			block.Retain()
		}
	}
	return addr, nil
}

// TransactionCommit installs newAddr into slot i, syncs at the given
// level, and releases the writer mutex acquired by StartTransaction.
func (t *Table) TransactionCommit(i int, newAddr cb.Address, level options.SyncMode) error {
	if err := t.checkSlot(i); err != nil {
		return err
	}
	s := &t.slots[i]
	defer s.writerMu.Unlock()

	s.rw.Lock()
	s.addr.Store(uint32(newAddr))
	s.rw.Unlock()

	if t.sync != nil {
		return t.sync(level)
	}
	return nil
}

// TransactionAbort releases the writer mutex acquired by StartTransaction
// without changing slot i's address.
func (t *Table) TransactionAbort(i int) error {
	if err := t.checkSlot(i); err != nil {
		return err
	}
	t.slots[i].writerMu.Unlock()
	return nil
}

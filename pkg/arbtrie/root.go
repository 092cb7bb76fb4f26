package arbtrie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/root"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// RootHandle names whichever subtree currently occupies a root slot. It is
// opaque outside this package: the only way to obtain one is GetRoot,
// StartTransaction, or as the CasRoot/RootTransaction.Commit return value,
// and the only way to use one is to feed it back into SetRoot/CasRoot.
type RootHandle struct {
	addr cb.Address
}

// GetRoot retains and returns the address currently anchoring root slot i.
// Callers done inspecting it are expected to eventually supersede it via
// SetRoot/CasRoot/StartTransaction, which is what actually releases a root
// slot's structural ownership of its prior handle.
func (e *Engine) GetRoot(i int) (RootHandle, error) {
	addr, err := e.roots.Get(i)
	if err != nil {
		return RootHandle{}, err
	}
	return RootHandle{addr: addr}, nil
}

// SetRoot unconditionally installs h into root slot i at the given sync
// level, returning the handle it replaced.
func (e *Engine) SetRoot(i int, h RootHandle, sync options.SyncMode) (RootHandle, error) {
	prior, err := e.roots.Set(i, h.addr, sync)
	if err != nil {
		return RootHandle{}, err
	}
	return RootHandle{addr: prior}, nil
}

// CasRoot installs desire into root slot i only if its current handle is
// expect, reporting whether the exchange happened.
func (e *Engine) CasRoot(i int, expect, desire RootHandle, sync options.SyncMode) bool {
	ok, _ := e.roots.CasRoot(i, expect.addr, desire.addr, sync)
	return ok
}

// StartTransaction acquires root slot i's writer mutex, blocking out any
// other in-flight transaction against the same slot, and returns a
// RootTransaction the caller must Commit or Abort to release it.
func (e *Engine) StartTransaction(i int) (*RootTransaction, error) {
	addr, err := e.roots.StartTransaction(i)
	if err != nil {
		return nil, err
	}
	return &RootTransaction{roots: e.roots, slot: i, current: RootHandle{addr: addr}}, nil
}

// RootTransaction holds exclusive write access to one root slot until
// Commit or Abort releases it.
type RootTransaction struct {
	roots *root.Table
	slot  int
	ended bool

	current RootHandle
}

// Current returns the slot's handle as observed when the transaction
// started.
func (tx *RootTransaction) Current() RootHandle { return tx.current }

// Commit installs h into the slot at the given sync level and releases the
// transaction's writer lock.
func (tx *RootTransaction) Commit(h RootHandle, sync options.SyncMode) error {
	if tx.ended {
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "root transaction already ended")
	}
	tx.ended = true
	return tx.roots.TransactionCommit(tx.slot, h.addr, sync)
}

// Abort releases the transaction's writer lock without changing the slot.
func (tx *RootTransaction) Abort() error {
	if tx.ended {
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "root transaction already ended")
	}
	tx.ended = true
	return tx.roots.TransactionAbort(tx.slot)
}

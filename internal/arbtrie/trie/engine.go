package trie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/root"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// Engine is the public entry point for trie operations against one root
// object table: point lookup and cursor construction need no coordination
// beyond a single retained read of the relevant slot, while Upsert and
// Remove rebuild a candidate replacement path and publish it with a single
// CasRoot, retrying from a freshly read root on a lost race (§4.9.3). A
// losing candidate path is never linked into the live tree, so nothing
// beyond its own freshly allocated addresses needs to be unwound on retry.
type Engine struct {
	roots *root.Table
	sync  options.SyncMode
}

// NewEngine constructs an Engine over roots, publishing CasRoot updates at
// the given sync level.
func NewEngine(roots *root.Table, sync options.SyncMode) *Engine {
	return &Engine{roots: roots, sync: sync}
}

// releaseRoot releases the transient read reference Table.Get/StartTransaction
// retained on addr's behalf, distinct from the root slot's own structural
// ownership of whichever address it currently holds.
func (e *Engine) releaseRoot(s *session.Session, addr cb.Address) {
	if addr == 0 {
		return
	}
	if cbk := s.CBTable().Get(addr); cbk != nil {
		cbk.Release()
	}
}

// Get performs a point lookup for key against slot's current root.
func (e *Engine) Get(slot int, key []byte, s *session.Session) (node.Value, bool, error) {
	addr, err := e.roots.Get(slot)
	if err != nil {
		return node.Value{}, false, err
	}
	defer e.releaseRoot(s, addr)
	return Get(addr, key, s)
}

// Upsert maps key to value under slot's tree, retrying against the current
// root whenever a concurrent writer wins the CasRoot race first. A losing
// candidate path was never linked into the live tree, so its whole
// freshly-built subtree is released (and cascade-destroyed) rather than
// left retained forever.
func (e *Engine) Upsert(slot int, key []byte, value node.Value, s *session.Session) error {
	for {
		old, err := e.roots.Get(slot)
		if err != nil {
			return err
		}

		newAddr, err := upsertAt(s, old, key, value)
		if err != nil {
			e.releaseRoot(s, old)
			return err
		}

		ok, err := e.roots.CasRoot(slot, old, newAddr, e.sync)
		e.releaseRoot(s, old)
		if err != nil {
			if ok {
				orphan(s, old)
			} else {
				orphan(s, newAddr)
			}
			return err
		}
		if ok {
			orphan(s, old)
			return nil
		}
		orphan(s, newAddr)
	}
}

// Remove deletes key from slot's tree, reporting whether it was present.
// Like Upsert, a lost CasRoot simply retries the whole rewrite against the
// newly current root, and a losing candidate path is released rather than
// left retained forever.
func (e *Engine) Remove(slot int, key []byte, s *session.Session) (bool, error) {
	for {
		old, err := e.roots.Get(slot)
		if err != nil {
			return false, err
		}

		newAddr, removed, err := removeAt(s, old, key)
		if err != nil {
			e.releaseRoot(s, old)
			return false, err
		}
		if !removed {
			e.releaseRoot(s, old)
			return false, nil
		}

		ok, err := e.roots.CasRoot(slot, old, newAddr, e.sync)
		e.releaseRoot(s, old)
		if err != nil {
			if ok {
				orphan(s, old)
			} else {
				orphan(s, newAddr)
			}
			return false, err
		}
		if ok {
			orphan(s, old)
			return true, nil
		}
		orphan(s, newAddr)
	}
}

// NewCursor returns a cursor over slot's current root, retained for the
// duration of the read the caller performs through it. Callers that hold
// the cursor across other mutations should re-seek rather than assume the
// underlying tree is unchanged, since a concurrent Upsert/Remove publishes
// an entirely new path rather than mutating the nodes the cursor has
// already visited.
func (e *Engine) NewCursor(slot int, s *session.Session) (*Cursor, error) {
	addr, err := e.roots.Get(slot)
	if err != nil {
		return nil, err
	}
	return NewCursor(addr, s), nil
}

// Package trie implements the adaptive radix trie engine: point lookup,
// upsert, remove, and ordered cursor traversal over the node family in
// internal/arbtrie/node, wired through a session's writable-segment
// contract and a root table's CAS-protected slots (§4.9).
//
// Every modification is copy-on-write: a path from the target leaf up to
// the root is rebuilt as fresh nodes at fresh control-block addresses,
// and the change becomes visible atomically via a single CAS against the
// owning root slot. A lost CAS (a concurrent writer got there first)
// simply discards the freshly built — and not yet visible to anyone —
// replacement path and retries against the new current root; the retry
// loop lives in Engine.Upsert/Remove, never here.
package trie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// branchWriter is satisfied by *node.SetlistNode and *node.FullNode: the
// two node types whose branches are keyed by a single byte and so can be
// mutated generically by the upsert/remove walk without a type switch per
// call site. *node.BinaryNode's Put takes a full suffix, not a byte, so it
// deliberately does not satisfy this interface.
type branchWriter interface {
	node.Node
	Put(b byte, v node.Value)
	PutEOF(v node.Value)
	Delete(b byte) bool
	DeleteEOF()
}

// fetch decodes and checksum-verifies the node stored at addr, returning
// its header alongside the decoded value since callers need the encoded
// size (for freed-space accounting) that only the header carries. The
// control-block lookup and the raw byte resolution it drives are the
// engine's one dereference choke point, so this is the one place that
// needs to hold the session's read lock (§4.9.1: "all dereferences occur
// under a read lock") — every trie/cursor operation routes through here.
func fetch(s *session.Session, addr cb.Address) (node.Node, node.AllocHeader, error) {
	s.Lock()
	defer s.Unlock()

	cbk := s.CBTable().Get(addr)
	if cbk == nil {
		return nil, node.AllocHeader{}, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "dangling node address").
			WithDetail("address", uint32(addr))
	}
	cacheline, _, _ := cbk.Loc()

	hdrBytes, err := s.Allocator().Resolve(cacheline, node.HeaderSize)
	if err != nil {
		return nil, node.AllocHeader{}, err
	}
	h, err := node.DecodeHeader(hdrBytes)
	if err != nil {
		return nil, node.AllocHeader{}, err
	}

	full, err := s.Allocator().Resolve(cacheline, h.Size)
	if err != nil {
		return nil, node.AllocHeader{}, err
	}
	if !h.VerifyChecksum(full) {
		return nil, node.AllocHeader{}, errors.NewCorruptionError(nil, errors.ErrorCodeChecksumMismatch, "node checksum mismatch").
			WithDetail("address", uint32(addr))
	}

	n, err := node.Decode(full)
	if err != nil {
		return nil, node.AllocHeader{}, err
	}
	return n, h, nil
}

// publish serializes n into a fresh session allocation and binds it to a
// newly allocated control-block address, retaining that address on behalf
// of the single structural reference the caller is about to link it under
// (a parent branch slot or a root slot), per §3.2's "ref == 0 implies the
// control block is free" — a freshly published node must never be
// observably free. Every modification path ends here exactly once per
// rewritten node.
func publish(s *session.Session, n node.Node) (cb.Address, error) {
	addr, err := s.CBTable().Alloc(nil)
	if err != nil {
		return 0, err
	}

	buf, err := node.Finalize(n, addr, 0)
	if err != nil {
		return 0, err
	}

	sg, off, err := s.Alloc(uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	copy(sg.At(off, uint32(len(buf))), buf)

	s.CBTable().Init(addr, s.Allocator().Cacheline(sg, off), false, false)

	cbk := s.CBTable().Get(addr)
	if cbk != nil {
		cbk.Retain()
	}
	return addr, nil
}

// orphan releases the structural reference a superseded node held at addr.
// If that was the last reference, addr's node is reported to the allocator
// as newly-freed space, every child it still holds is released in turn via
// the type vtable's Destroy (cascading the same release all the way down
// any subtree that became unreachable), and addr's control-block slot is
// returned to the free list (§4.9.3/§4.9.5/§4.10's release cascade). A
// concurrent reader may still be dereferencing addr under its own read
// lock; the session/segment epoch protocol (§4.7) is what makes freeing
// the control-block slot here safe regardless — it only governs when the
// underlying segment bytes may be recycled, not when the control-block
// bookkeeping itself may be reused.
func orphan(s *session.Session, addr cb.Address) {
	if addr == 0 {
		return
	}
	cbk := s.CBTable().Get(addr)
	if cbk == nil {
		return
	}
	if cbk.Release() != 1 {
		return
	}

	n, h, err := fetch(s, addr)
	if err == nil {
		cacheline, _, _ := cbk.Loc()
		segNum, _ := s.Allocator().Locate(cacheline)
		s.Allocator().ReportFreed(segNum, h.Size)

		if desc := node.Descriptor(h.Type); desc != nil && desc.Destroy != nil {
			desc.Destroy(n, func(child cb.Address) { orphan(s, child) })
		}
	}
	s.CBTable().Free(addr)
}

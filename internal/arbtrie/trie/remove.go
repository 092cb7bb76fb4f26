package trie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// removeAt deletes key from the subtree rooted at addr, returning the
// address of the replacement subtree (0 if the subtree became empty) and
// whether key was actually present.
func removeAt(s *session.Session, addr cb.Address, key []byte) (cb.Address, bool, error) {
	if addr == 0 {
		return 0, false, nil
	}

	n, _, err := fetch(s, addr)
	if err != nil {
		return 0, false, err
	}

	switch v := n.(type) {
	case *node.BinaryNode:
		if !v.Delete(key) {
			return addr, false, nil
		}
		if v.NumBranches() == 0 {
			orphan(s, addr)
			return 0, true, nil
		}
		newAddr, perr := publish(s, v)
		if perr != nil {
			return 0, false, perr
		}
		orphan(s, addr)
		return newAddr, true, nil

	case *node.SetlistNode:
		return removeBranch(s, addr, v, key)
	case *node.FullNode:
		return removeBranch(s, addr, v, key)

	default:
		return 0, false, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unexpected node type along remove path")
	}
}

// removeBranch deletes key from a setlist or full node, recursing into the
// relevant child subtree and collapsing this node once it holds neither a
// value nor any remaining branch.
func removeBranch(s *session.Session, addr cb.Address, v branchWriter, key []byte) (cb.Address, bool, error) {
	if len(key) == 0 {
		if !v.HasValue() {
			return addr, false, nil
		}
		v.DeleteEOF()
	} else {
		b := key[0]
		idx := v.GetBranchIndex(b)
		if idx == node.NoIndex {
			return addr, false, nil
		}
		childAddr := v.GetValue(idx).Address

		newChildAddr, removed, err := removeAt(s, childAddr, key[1:])
		if err != nil {
			return 0, false, err
		}
		if !removed {
			return addr, false, nil
		}
		if newChildAddr == 0 {
			v.Delete(b)
		} else {
			v.Put(b, node.Value{Type: node.ValueTypeNode, Address: newChildAddr})
		}
	}

	if v.NumBranches() == 0 && !v.HasValue() {
		orphan(s, addr)
		return 0, true, nil
	}

	refactored, err := node.RefactorIfNeeded(v, s)
	if err != nil {
		return 0, false, err
	}
	if refactored == nil {
		orphan(s, addr)
		return 0, true, nil
	}

	newAddr, err := publish(s, refactored)
	if err != nil {
		return 0, false, err
	}
	orphan(s, addr)
	return newAddr, true, nil
}

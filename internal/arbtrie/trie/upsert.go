package trie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// upsertAt rewrites the subtree rooted at addr so that key maps to value,
// returning the address of the replacement subtree. addr == 0 means "no
// subtree yet here" and always produces a fresh binary leaf.
func upsertAt(s *session.Session, addr cb.Address, key []byte, value node.Value) (cb.Address, error) {
	if addr == 0 {
		leaf := node.NewBinaryNode(nil)
		leaf.Put(key, value)
		return publish(s, leaf)
	}

	n, _, err := fetch(s, addr)
	if err != nil {
		return 0, err
	}

	var newNode node.Node
	switch v := n.(type) {
	case *node.BinaryNode:
		v.Put(key, value)
		refactored, rerr := node.RefactorIfNeeded(v, s)
		if rerr != nil {
			return 0, rerr
		}
		if refactored == node.Node(v) {
			newNode = v
		} else {
			redistributed, rerr2 := redistribute(s, v, refactored)
			if rerr2 != nil {
				return 0, rerr2
			}
			newNode = redistributed
		}

	case *node.SetlistNode:
		newNode, err = upsertBranch(s, v, key, value)
	case *node.FullNode:
		newNode, err = upsertBranch(s, v, key, value)
	default:
		return 0, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unexpected node type along upsert path")
	}
	if err != nil {
		return 0, err
	}

	newAddr, err := publish(s, newNode)
	if err != nil {
		return 0, err
	}
	orphan(s, addr)
	return newAddr, nil
}

// upsertBranch applies value at key against a setlist or full node,
// recursing into (and possibly creating) the relevant child subtree.
func upsertBranch(s *session.Session, v branchWriter, key []byte, value node.Value) (node.Node, error) {
	if len(key) == 0 {
		v.PutEOF(value)
		return node.RefactorIfNeeded(v, s)
	}

	b := key[0]
	var childAddr cb.Address
	if idx := v.GetBranchIndex(b); idx != node.NoIndex {
		childAddr = v.GetValue(idx).Address
	}

	newChildAddr, err := upsertAt(s, childAddr, key[1:], value)
	if err != nil {
		return nil, err
	}
	v.Put(b, node.Value{Type: node.ValueTypeNode, Address: newChildAddr})
	return node.RefactorIfNeeded(v, s)
}

// redistribute fans an overflowing binary node's entries out into inner
// (the freshly minted, still-empty setlist or full node that
// node.RefactorIfNeeded produced in its place), recursing one level per
// entry's first remaining byte so entries sharing a branch accumulate into
// the same child subtree rather than clobbering one another.
func redistribute(s *session.Session, old *node.BinaryNode, inner node.Node) (node.Node, error) {
	bw, ok := inner.(branchWriter)
	if !ok {
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "refactored binary node replacement is not a branch node")
	}

	childAddrs := make(map[byte]cb.Address)
	var eofSet bool
	var eofValue node.Value

	for _, e := range old.Entries() {
		if len(e.Suffix) == 0 {
			eofSet = true
			eofValue = e.Value
			continue
		}
		b := e.Suffix[0]
		newChildAddr, err := upsertAt(s, childAddrs[b], e.Suffix[1:], e.Value)
		if err != nil {
			return nil, err
		}
		childAddrs[b] = newChildAddr
	}

	for b, a := range childAddrs {
		bw.Put(b, node.Value{Type: node.ValueTypeNode, Address: a})
	}
	if eofSet {
		bw.PutEOF(eofValue)
	}
	return inner, nil
}

package trie

import (
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
)

// Get performs a point lookup for key against the tree rooted at root. Its
// loop needs only GetValueAndTrailingKey from the Node interface: a binary
// node always resolves the lookup immediately (exact match or miss), while
// a branch node (setlist/full) either yields its own EOF value when key is
// fully consumed or a child address to continue descending into.
func Get(root cb.Address, key []byte, s *session.Session) (node.Value, bool, error) {
	addr := root
	remaining := key

	for addr != 0 {
		n, _, err := fetch(s, addr)
		if err != nil {
			return node.Value{}, false, err
		}

		val, trailing, found := n.GetValueAndTrailingKey(remaining)
		if !found {
			return node.Value{}, false, nil
		}
		if _, isBinary := n.(*node.BinaryNode); isBinary {
			return val, true, nil
		}
		if len(remaining) == 0 {
			return val, true, nil
		}

		remaining = trailing
		addr = val.Address
	}

	return node.Value{}, false, nil
}

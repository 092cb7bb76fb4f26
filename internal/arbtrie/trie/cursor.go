package trie

import (
	"bytes"
	"sort"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// lowerBounder is satisfied by *node.SetlistNode and *node.FullNode: the
// capability the cursor needs to land on the successor branch when an exact
// seek byte is absent at a given level.
type lowerBounder interface {
	LowerBoundIndex(k byte) node.LocalIndex
}

// frame is one level of the path the cursor is currently positioned on. For
// a *node.BinaryNode frame, idx indexes directly into its sorted entries;
// every other concrete type shares the LocalIndex space defined by the Node
// interface (BeginIndex/EndIndex/NextIndex/PrevIndex/GetBranchKey).
type frame struct {
	n   node.Node
	idx node.LocalIndex
}

// Cursor supports ordered traversal (lower_bound seek, forward and backward
// step) over the tree rooted at root, replaying a stack of frames the same
// way the abstract node contract's next_index/prev_index primitives do
// (§4.9's cursor description): no node type exposes a full ordered key
// range directly, so descent and ascent are both driven one local index at
// a time.
type Cursor struct {
	s     *session.Session
	root  cb.Address
	stack []frame
	valid bool
}

// NewCursor returns a cursor over the tree rooted at root. It starts
// unpositioned; call Seek to establish an initial position.
func NewCursor(root cb.Address, s *session.Session) *Cursor {
	return &Cursor{s: s, root: root}
}

// Valid reports whether the cursor currently sits on a key.
func (c *Cursor) Valid() bool { return c.valid }

// Close releases the read reference the cursor's root holds. Callers that
// obtained a Cursor from Engine.NewCursor must call Close once done with
// it, mirroring the retain Engine.NewCursor's root.Table.Get performed.
func (c *Cursor) Close() {
	if c.root == 0 {
		return
	}
	if cbk := c.s.CBTable().Get(c.root); cbk != nil {
		cbk.Release()
	}
	c.root = 0
}

// Seek positions the cursor at the smallest key >= target, reporting
// whether such a key exists.
func (c *Cursor) Seek(target []byte) (bool, error) {
	c.stack = c.stack[:0]
	c.valid = false

	addr := c.root
	remaining := target

	for {
		if addr == 0 {
			if len(c.stack) == 0 {
				return false, nil
			}
			ok, err := c.Next()
			return ok, err
		}

		n, _, err := fetch(c.s, addr)
		if err != nil {
			return false, err
		}

		switch v := n.(type) {
		case *node.BinaryNode:
			entries := v.Entries()
			idx := sort.Search(len(entries), func(i int) bool {
				return bytes.Compare(entries[i].Suffix, remaining) >= 0
			})
			if idx < len(entries) {
				c.stack = append(c.stack, frame{n: v, idx: node.LocalIndex(idx)})
				c.valid = true
				return true, nil
			}
			if len(c.stack) == 0 {
				return false, nil
			}
			return c.Next()

		case *node.SetlistNode, *node.FullNode:
			if len(remaining) == 0 {
				if v.HasValue() {
					c.stack = append(c.stack, frame{n: v, idx: 0})
					c.valid = true
					return true, nil
				}
				idx := v.BeginIndex()
				if idx == v.EndIndex() {
					if len(c.stack) == 0 {
						return false, nil
					}
					return c.Next()
				}
				c.stack = append(c.stack, frame{n: v, idx: idx})
				addr = v.GetValue(idx).Address
				remaining = nil
				continue
			}

			b := remaining[0]
			if idx := v.GetBranchIndex(b); idx != node.NoIndex {
				c.stack = append(c.stack, frame{n: v, idx: idx})
				addr = v.GetValue(idx).Address
				remaining = remaining[1:]
				continue
			}

			lb := n.(lowerBounder)
			idx := lb.LowerBoundIndex(b)
			if idx == v.EndIndex() {
				if len(c.stack) == 0 {
					return false, nil
				}
				return c.Next()
			}
			c.stack = append(c.stack, frame{n: v, idx: idx})
			addr = v.GetValue(idx).Address
			remaining = nil
			continue

		default:
			return false, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unexpected node type along cursor seek path")
		}
	}
}

// Next advances the cursor to the next key in order, reporting whether one
// exists. It pops exhausted frames and, on finding an unvisited sibling
// branch, descends to that subtree's smallest key.
func (c *Cursor) Next() (bool, error) {
	c.valid = false

	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]

		if bn, ok := top.n.(*node.BinaryNode); ok {
			entries := bn.Entries()
			if int(top.idx)+1 < len(entries) {
				top.idx++
				c.valid = true
				return true, nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}

		nextIdx := top.n.NextIndex(top.idx)
		if nextIdx == top.n.EndIndex() {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		top.idx = nextIdx

		if _, isEOF := top.n.GetBranchKey(nextIdx); isEOF {
			c.valid = true
			return true, nil
		}

		child := top.n.GetValue(nextIdx).Address
		ok, err := c.descendLeftmost(child)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// Prev retreats the cursor to the previous key in order, mirroring Next.
func (c *Cursor) Prev() (bool, error) {
	c.valid = false

	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]

		if _, ok := top.n.(*node.BinaryNode); ok {
			if top.idx > 0 {
				top.idx--
				c.valid = true
				return true, nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}

		prevIdx := top.n.PrevIndex(top.idx)
		if prevIdx == node.NoIndex {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		top.idx = prevIdx

		if _, isEOF := top.n.GetBranchKey(prevIdx); isEOF {
			c.valid = true
			return true, nil
		}

		child := top.n.GetValue(prevIdx).Address
		ok, err := c.descendRightmost(child)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// descendLeftmost pushes frames from addr down to the subtree's smallest
// terminal position (a binary entry or a branch node's own EOF value, which
// always sorts before any of its branches).
func (c *Cursor) descendLeftmost(addr cb.Address) (bool, error) {
	for addr != 0 {
		n, _, err := fetch(c.s, addr)
		if err != nil {
			return false, err
		}

		if bn, ok := n.(*node.BinaryNode); ok {
			entries := bn.Entries()
			if len(entries) == 0 {
				return false, nil
			}
			c.stack = append(c.stack, frame{n: bn, idx: 0})
			c.valid = true
			return true, nil
		}

		if n.HasValue() {
			c.stack = append(c.stack, frame{n: n, idx: 0})
			c.valid = true
			return true, nil
		}

		idx := n.BeginIndex()
		if idx == n.EndIndex() {
			return false, nil
		}
		c.stack = append(c.stack, frame{n: n, idx: idx})
		addr = n.GetValue(idx).Address
	}
	return false, nil
}

// descendRightmost mirrors descendLeftmost, landing on the subtree's
// largest terminal position.
func (c *Cursor) descendRightmost(addr cb.Address) (bool, error) {
	for addr != 0 {
		n, _, err := fetch(c.s, addr)
		if err != nil {
			return false, err
		}

		if bn, ok := n.(*node.BinaryNode); ok {
			entries := bn.Entries()
			if len(entries) == 0 {
				return false, nil
			}
			c.stack = append(c.stack, frame{n: bn, idx: node.LocalIndex(len(entries) - 1)})
			c.valid = true
			return true, nil
		}

		last := n.PrevIndex(n.EndIndex())
		if last == node.NoIndex {
			return false, nil
		}
		c.stack = append(c.stack, frame{n: n, idx: last})
		if _, isEOF := n.GetBranchKey(last); isEOF {
			c.valid = true
			return true, nil
		}
		addr = n.GetValue(last).Address
	}
	return false, nil
}

// Key reconstructs the full key at the cursor's current position by
// replaying the branch byte chosen at every frame but the last, which
// contributes either a binary node's full stored suffix or nothing (a
// branch node's own EOF value terminates the key at that level).
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}

	var buf []byte
	for _, f := range c.stack {
		if bn, ok := f.n.(*node.BinaryNode); ok {
			buf = append(buf, bn.Entries()[f.idx].Suffix...)
			break
		}
		b, isEOF := f.n.GetBranchKey(f.idx)
		if isEOF {
			break
		}
		buf = append(buf, b)
	}
	return buf
}

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() node.Value {
	if !c.valid {
		return node.Value{}
	}
	top := c.stack[len(c.stack)-1]
	if bn, ok := top.n.(*node.BinaryNode); ok {
		return bn.Entries()[top.idx].Value
	}
	return top.n.GetValue(top.idx)
}

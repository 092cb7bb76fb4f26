package node

import (
	"encoding/binary"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// FullNodeThreshold is the branch count at which a setlist node promotes
// to a full node, grounded on the original engine's tuned constant (two
// cachelines' worth of setlist entries).
const FullNodeThreshold = 128

// SetlistNode holds its branches densely, in insertion-sorted byte order:
// a parallel byte array of branch characters and a same-length array of
// the value reachable through each. Size-efficient for sparse branch sets
// (branches ∈ [1, FullNodeThreshold)).
type SetlistNode struct {
	header  AllocHeader
	prefix  []byte
	hasEOF  bool
	eof     Value
	bytes   []byte
	values  []Value
}

// NewSetlistNode constructs an empty setlist node consuming prefix.
func NewSetlistNode(prefix []byte) *SetlistNode {
	return &SetlistNode{
		header: AllocHeader{Type: TypeSetlist},
		prefix: append([]byte(nil), prefix...),
	}
}

func (n *SetlistNode) Header() AllocHeader    { return n.header }
func (n *SetlistNode) setHeader(h AllocHeader) { n.header = h }
func (n *SetlistNode) GetPrefix() []byte   { return n.prefix }
func (n *SetlistNode) NumBranches() int    { return len(n.bytes) }

func (n *SetlistNode) eofSlot() int {
	if n.hasEOF {
		return 1
	}
	return 0
}

func (n *SetlistNode) BeginIndex() LocalIndex { return 0 }
func (n *SetlistNode) EndIndex() LocalIndex {
	return LocalIndex(len(n.bytes) + n.eofSlot())
}
func (n *SetlistNode) NextIndex(i LocalIndex) LocalIndex { return i + 1 }
func (n *SetlistNode) PrevIndex(i LocalIndex) LocalIndex { return i - 1 }

func (n *SetlistNode) GetBranchKey(i LocalIndex) (byte, bool) {
	slot := n.eofSlot()
	if n.hasEOF && i == 0 {
		return 0, true
	}
	idx := int(i) - slot
	if idx < 0 || idx >= len(n.bytes) {
		return 0, false
	}
	return n.bytes[idx], false
}

func (n *SetlistNode) GetBranchIndex(k byte) LocalIndex {
	idx := lowerBound(n.bytes, k)
	if idx < len(n.bytes) && n.bytes[idx] == k {
		return LocalIndex(idx + n.eofSlot())
	}
	return NoIndex
}

// LowerBoundIndex returns the index of the first branch whose byte is >= k,
// or EndIndex() if no such branch exists. Used by the cursor to position at
// the successor branch when an exact seek target is absent.
func (n *SetlistNode) LowerBoundIndex(k byte) LocalIndex {
	return LocalIndex(lowerBound(n.bytes, k) + n.eofSlot())
}

func (n *SetlistNode) GetValue(i LocalIndex) Value {
	slot := n.eofSlot()
	if n.hasEOF && i == 0 {
		return n.eof
	}
	idx := int(i) - slot
	if idx < 0 || idx >= len(n.values) {
		return Value{}
	}
	return n.values[idx]
}

func (n *SetlistNode) HasValue() bool     { return n.hasEOF }
func (n *SetlistNode) Value() Value       { return n.eof }
func (n *SetlistNode) GetValueType() ValueType {
	if !n.hasEOF {
		return ValueTypeNone
	}
	return n.eof.Type
}

// GetValueAndTrailingKey consumes exactly one key byte at this level:
// setlist and full nodes are classic single-byte-per-level ART branches.
func (n *SetlistNode) GetValueAndTrailingKey(key []byte) (Value, []byte, bool) {
	if len(key) == 0 {
		if n.hasEOF {
			return n.eof, nil, true
		}
		return Value{}, key, false
	}
	idx := lowerBound(n.bytes, key[0])
	if idx < len(n.bytes) && n.bytes[idx] == key[0] {
		return n.values[idx], key[1:], true
	}
	return Value{}, key, false
}

// Put inserts or replaces the branch for byte k.
func (n *SetlistNode) Put(k byte, v Value) {
	idx := lowerBound(n.bytes, k)
	if idx < len(n.bytes) && n.bytes[idx] == k {
		n.values[idx] = v
		return
	}
	n.bytes = append(n.bytes, 0)
	copy(n.bytes[idx+1:], n.bytes[idx:len(n.bytes)-1])
	n.bytes[idx] = k

	n.values = append(n.values, Value{})
	copy(n.values[idx+1:], n.values[idx:len(n.values)-1])
	n.values[idx] = v
}

// PutEOF sets the node's own EOF value.
func (n *SetlistNode) PutEOF(v Value) {
	n.hasEOF = true
	n.eof = v
}

// Delete removes the branch for byte k, reporting whether one was present.
func (n *SetlistNode) Delete(k byte) bool {
	idx := lowerBound(n.bytes, k)
	if idx >= len(n.bytes) || n.bytes[idx] != k {
		return false
	}
	n.bytes = append(n.bytes[:idx], n.bytes[idx+1:]...)
	n.values = append(n.values[:idx], n.values[idx+1:]...)
	return true
}

// DeleteEOF clears the node's own EOF value.
func (n *SetlistNode) DeleteEOF() {
	n.hasEOF = false
	n.eof = Value{}
}

// EncodedSize returns the number of bytes this node would occupy on disk.
func (n *SetlistNode) EncodedSize() uint32 {
	size := uint32(HeaderSize) + 2 + uint32(len(n.prefix)) + 2 + uint32(len(n.bytes)) + 1
	for _, v := range n.values {
		size += valueEncodedSize(v)
	}
	if n.hasEOF {
		size += valueEncodedSize(n.eof)
	}
	return size
}

// Encode serializes n into dst, which must be at least EncodedSize()
// bytes.
func (n *SetlistNode) Encode(dst []byte) {
	n.header.Encode(dst)
	off := HeaderSize

	binary.LittleEndian.PutUint16(dst[off:], uint16(len(n.prefix)))
	off += 2
	off += copy(dst[off:], n.prefix)

	binary.LittleEndian.PutUint16(dst[off:], uint16(len(n.bytes)))
	off += 2
	off += copy(dst[off:], n.bytes)

	for _, v := range n.values {
		off += encodeValue(dst[off:], v)
	}

	if n.hasEOF {
		dst[off] = 1
		off++
		off += encodeValue(dst[off:], n.eof)
	} else {
		dst[off] = 0
		off++
	}
}

// DecodeSetlistNode parses a SetlistNode previously written by Encode.
func DecodeSetlistNode(src []byte) (*SetlistNode, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	off := HeaderSize

	prefixLen := int(binary.LittleEndian.Uint16(src[off:]))
	off += 2
	prefix := append([]byte(nil), src[off:off+prefixLen]...)
	off += prefixLen

	count := int(binary.LittleEndian.Uint16(src[off:]))
	off += 2
	branchBytes := append([]byte(nil), src[off:off+count]...)
	off += count

	n := &SetlistNode{header: h, prefix: prefix, bytes: branchBytes, values: make([]Value, count)}
	for i := 0; i < count; i++ {
		v, consumed, err := decodeValue(src[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		n.values[i] = v
	}

	hasEOF := src[off] == 1
	off++
	if hasEOF {
		v, _, err := decodeValue(src[off:])
		if err != nil {
			return nil, err
		}
		n.hasEOF = true
		n.eof = v
	}
	return n, nil
}

func (n *SetlistNode) Validate() error {
	for i := 1; i < len(n.bytes); i++ {
		if n.bytes[i-1] >= n.bytes[i] {
			return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "setlist branches out of order").
				WithDetail("index", i)
		}
	}
	if len(n.bytes) >= FullNodeThreshold {
		return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "setlist node exceeds full-node threshold").
			WithDetail("branches", len(n.bytes))
	}
	return nil
}

func init() {
	RegisterType(TypeSetlist, &NodeDescriptor{
		Name:        "setlist",
		HasChecksum: true,
		CowSize: func(n Node) uint32 {
			return n.(*SetlistNode).EncodedSize()
		},
		CompactSize: func(n Node) uint32 {
			return n.(*SetlistNode).EncodedSize()
		},
		Destroy: func(n Node, release func(cb.Address)) {
			s := n.(*SetlistNode)
			for _, v := range s.values {
				if v.Type == ValueTypeNode || v.Type == ValueTypeSubtree {
					release(v.Address)
				}
			}
			if s.hasEOF && (s.eof.Type == ValueTypeNode || s.eof.Type == ValueTypeSubtree) {
				release(s.eof.Address)
			}
		},
		VisitChildren: func(n Node, visit func(Value)) {
			s := n.(*SetlistNode)
			for _, v := range s.values {
				visit(v)
			}
		},
	})
}

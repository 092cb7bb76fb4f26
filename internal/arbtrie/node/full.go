package node

import (
	"encoding/binary"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// FullNode stores a direct 256-entry index table keyed by byte value,
// giving O(1) branch lookup at the cost of up to two bytes of overhead per
// possible branch regardless of how many are actually populated. Used once
// a setlist node's branch count reaches FullNodeThreshold.
type FullNode struct {
	header AllocHeader
	prefix []byte
	hasEOF bool
	eof    Value
	slots  [256]Value
	count  int
}

// NewFullNode constructs an empty full node consuming prefix.
func NewFullNode(prefix []byte) *FullNode {
	return &FullNode{
		header: AllocHeader{Type: TypeFull},
		prefix: append([]byte(nil), prefix...),
	}
}

func (n *FullNode) Header() AllocHeader    { return n.header }
func (n *FullNode) setHeader(h AllocHeader) { n.header = h }
func (n *FullNode) GetPrefix() []byte   { return n.prefix }
func (n *FullNode) NumBranches() int    { return n.count }

func (n *FullNode) eofSlot() int {
	if n.hasEOF {
		return 1
	}
	return 0
}

// BeginIndex returns the first populated index (EOF counts as index 0).
func (n *FullNode) BeginIndex() LocalIndex {
	if n.hasEOF {
		return 0
	}
	return n.NextIndex(0)
}

// EndIndex is one past the highest addressable index (byte 0xff maps to
// KeyIndex 256).
func (n *FullNode) EndIndex() LocalIndex { return LocalIndex(257) }

func (n *FullNode) NextIndex(i LocalIndex) LocalIndex {
	for idx := int(i) + 1; idx <= 256; idx++ {
		if idx >= 1 && !n.slots[idx-1].IsEmpty() {
			return LocalIndex(idx)
		}
	}
	return n.EndIndex()
}

func (n *FullNode) PrevIndex(i LocalIndex) LocalIndex {
	for idx := int(i) - 1; idx >= 1; idx-- {
		if !n.slots[idx-1].IsEmpty() {
			return LocalIndex(idx)
		}
	}
	if n.hasEOF {
		return 0
	}
	return NoIndex
}

func (n *FullNode) GetBranchKey(i LocalIndex) (byte, bool) {
	if i == 0 {
		return 0, true
	}
	return IndexToKeyByte(KeyIndex(i)), false
}

func (n *FullNode) GetBranchIndex(k byte) LocalIndex {
	if n.slots[k].IsEmpty() {
		return NoIndex
	}
	return LocalIndex(KeyByteToIndex(k))
}

// LowerBoundIndex returns the index of the first populated branch whose
// byte is >= k, or EndIndex() if none, for cursor lower_bound positioning.
func (n *FullNode) LowerBoundIndex(k byte) LocalIndex {
	for b := int(k); b <= 255; b++ {
		if !n.slots[b].IsEmpty() {
			return LocalIndex(KeyByteToIndex(byte(b)))
		}
	}
	return n.EndIndex()
}

func (n *FullNode) GetValue(i LocalIndex) Value {
	if i == 0 {
		return n.eof
	}
	b := IndexToKeyByte(KeyIndex(i))
	return n.slots[b]
}

func (n *FullNode) HasValue() bool         { return n.hasEOF }
func (n *FullNode) Value() Value           { return n.eof }
func (n *FullNode) GetValueType() ValueType {
	if !n.hasEOF {
		return ValueTypeNone
	}
	return n.eof.Type
}

func (n *FullNode) GetValueAndTrailingKey(key []byte) (Value, []byte, bool) {
	if len(key) == 0 {
		if n.hasEOF {
			return n.eof, nil, true
		}
		return Value{}, key, false
	}
	v := n.slots[key[0]]
	if v.IsEmpty() {
		return Value{}, key, false
	}
	return v, key[1:], true
}

// Put installs the branch for byte k.
func (n *FullNode) Put(k byte, v Value) {
	if n.slots[k].IsEmpty() && !v.IsEmpty() {
		n.count++
	} else if !n.slots[k].IsEmpty() && v.IsEmpty() {
		n.count--
	}
	n.slots[k] = v
}

// PutEOF sets the node's own EOF value.
func (n *FullNode) PutEOF(v Value) {
	n.hasEOF = true
	n.eof = v
}

// Delete clears the branch for byte k, reporting whether one was present.
func (n *FullNode) Delete(k byte) bool {
	if n.slots[k].IsEmpty() {
		return false
	}
	n.slots[k] = Value{}
	n.count--
	return true
}

// DeleteEOF clears the node's own EOF value.
func (n *FullNode) DeleteEOF() {
	n.hasEOF = false
	n.eof = Value{}
}

// EncodedSize returns the number of bytes this node would occupy on disk:
// a fixed 256-entry table, each slot at least its 1-byte type tag even
// when empty.
func (n *FullNode) EncodedSize() uint32 {
	size := uint32(HeaderSize) + 2 + uint32(len(n.prefix)) + 1
	for _, v := range n.slots {
		size += valueEncodedSize(v)
	}
	if n.hasEOF {
		size += valueEncodedSize(n.eof)
	}
	return size
}

// Encode serializes n into dst, which must be at least EncodedSize()
// bytes.
func (n *FullNode) Encode(dst []byte) {
	n.header.Encode(dst)
	off := HeaderSize

	binary.LittleEndian.PutUint16(dst[off:], uint16(len(n.prefix)))
	off += 2
	off += copy(dst[off:], n.prefix)

	for _, v := range n.slots {
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

// DecodeFullNode parses a FullNode previously written by Encode.
func DecodeFullNode(src []byte) (*FullNode, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	off := HeaderSize

	prefixLen := int(binary.LittleEndian.Uint16(src[off:]))
	off += 2
	prefix := append([]byte(nil), src[off:off+prefixLen]...)
	off += prefixLen

	n := &FullNode{header: h, prefix: prefix}
	for b := 0; b < 256; b++ {
		v, consumed, err := decodeValue(src[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		n.slots[b] = v
		if !v.IsEmpty() {
			n.count++
		}
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

func (n *FullNode) Validate() error {
	if n.count < FullNodeThreshold-1 {
		return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "full node below demotion threshold").
			WithDetail("branches", n.count)
	}
	count := 0
	for _, v := range n.slots {
		if !v.IsEmpty() {
			count++
		}
	}
	if count != n.count {
		return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "full node branch count mismatch").
			WithDetail("tracked", n.count).WithDetail("actual", count)
	}
	return nil
}

func init() {
	RegisterType(TypeFull, &NodeDescriptor{
		Name:        "full",
		HasChecksum: true,
		CowSize: func(n Node) uint32 {
			return n.(*FullNode).EncodedSize()
		},
		CompactSize: func(n Node) uint32 {
			return n.(*FullNode).EncodedSize()
		},
		Destroy: func(n Node, release func(cb.Address)) {
			f := n.(*FullNode)
			for _, v := range f.slots {
				if v.Type == ValueTypeNode || v.Type == ValueTypeSubtree {
					release(v.Address)
				}
			}
			if f.hasEOF && (f.eof.Type == ValueTypeNode || f.eof.Type == ValueTypeSubtree) {
				release(f.eof.Address)
			}
		},
		VisitChildren: func(n Node, visit func(Value)) {
			f := n.(*FullNode)
			for _, v := range f.slots {
				if !v.IsEmpty() {
					visit(v)
				}
			}
		},
	})
}

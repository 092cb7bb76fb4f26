package node

import (
	"encoding/binary"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
)

// ValueNode is the trivial node type: no branches, just a single oversized
// value too large to inline into an owning binary/setlist/full node's own
// allocation (§4.9.4: values exceeding MaxCacheableObjectSize are stored
// this way, reached via one extra address indirection).
type ValueNode struct {
	header AllocHeader
	data   []byte
}

// NewValueNode constructs a ValueNode wrapping data.
func NewValueNode(data []byte) *ValueNode {
	return &ValueNode{header: AllocHeader{Type: TypeValue}, data: append([]byte(nil), data...)}
}

func (n *ValueNode) Header() AllocHeader    { return n.header }
func (n *ValueNode) setHeader(h AllocHeader) { n.header = h }
func (n *ValueNode) GetPrefix() []byte   { return nil }
func (n *ValueNode) NumBranches() int    { return 0 }

func (n *ValueNode) BeginIndex() LocalIndex             { return 0 }
func (n *ValueNode) EndIndex() LocalIndex               { return 0 }
func (n *ValueNode) NextIndex(i LocalIndex) LocalIndex  { return NoIndex }
func (n *ValueNode) PrevIndex(i LocalIndex) LocalIndex  { return NoIndex }
func (n *ValueNode) GetBranchKey(LocalIndex) (byte, bool) { return 0, false }
func (n *ValueNode) GetBranchIndex(byte) LocalIndex     { return NoIndex }
func (n *ValueNode) GetValue(LocalIndex) Value          { return Value{} }

func (n *ValueNode) HasValue() bool         { return true }
func (n *ValueNode) Value() Value           { return Value{Type: ValueTypeInline, Inline: n.data} }
func (n *ValueNode) GetValueType() ValueType { return ValueTypeInline }

func (n *ValueNode) GetValueAndTrailingKey(key []byte) (Value, []byte, bool) {
	if len(key) != 0 {
		return Value{}, key, false
	}
	return n.Value(), nil, true
}

// Data returns the oversized value payload.
func (n *ValueNode) Data() []byte { return n.data }

// EncodedSize returns the number of bytes this node would occupy on disk.
func (n *ValueNode) EncodedSize() uint32 {
	return uint32(HeaderSize) + 4 + uint32(len(n.data))
}

// Encode serializes n into dst, which must be at least EncodedSize()
// bytes.
func (n *ValueNode) Encode(dst []byte) {
	n.header.Encode(dst)
	binary.LittleEndian.PutUint32(dst[HeaderSize:], uint32(len(n.data)))
	copy(dst[HeaderSize+4:], n.data)
}

// DecodeValueNode parses a ValueNode previously written by Encode.
func DecodeValueNode(src []byte) (*ValueNode, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	l := int(binary.LittleEndian.Uint32(src[HeaderSize:]))
	data := append([]byte(nil), src[HeaderSize+4:HeaderSize+4+l]...)
	return &ValueNode{header: h, data: data}, nil
}

func (n *ValueNode) Validate() error { return nil }

func init() {
	RegisterType(TypeValue, &NodeDescriptor{
		Name:        "value",
		HasChecksum: true,
		CowSize: func(n Node) uint32 {
			return n.(*ValueNode).EncodedSize()
		},
		CompactSize: func(n Node) uint32 {
			return n.(*ValueNode).EncodedSize()
		},
		Destroy:       func(n Node, release func(cb.Address)) {},
		VisitChildren: func(n Node, visit func(Value)) {},
	})
}

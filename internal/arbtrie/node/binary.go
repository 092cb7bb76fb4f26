package node

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// BinaryNodeMaxKeys is the largest number of entries a binary node may
// hold before it must refactor into a setlist or full node.
const BinaryNodeMaxKeys = 254

// BinaryRefactorThresholdBytes is the encoded-size threshold at which a
// binary node refactors, grounded on the original engine's tuned constant
// (a 4 KiB page).
const BinaryRefactorThresholdBytes = 4096

// binaryEntry is one (suffix, value) pair held inline by a BinaryNode. The
// empty suffix, if present, represents the node's own EOF value and always
// sorts first.
type binaryEntry struct {
	Suffix []byte
	Value  Value
}

// BinaryNode is the leaf/binary layout: up to BinaryNodeMaxKeys full
// remaining-key suffixes held inline with their terminal values, used near
// the insertion frontier where building out a deeper branch structure
// isn't yet worth the space.
type BinaryNode struct {
	header  AllocHeader
	prefix  []byte
	entries []binaryEntry
}

// Entry is an exported (suffix, value) pair, used by callers (the trie
// engine's binary-to-branch refactor) that need to redistribute a binary
// node's contents rather than just read through the Node interface.
type Entry struct {
	Suffix []byte
	Value  Value
}

// Entries returns a copy of n's (suffix, value) pairs in sorted order.
func (n *BinaryNode) Entries() []Entry {
	out := make([]Entry, len(n.entries))
	for i, e := range n.entries {
		out[i] = Entry{Suffix: e.Suffix, Value: e.Value}
	}
	return out
}

// NewBinaryNode constructs an empty binary node consuming prefix.
func NewBinaryNode(prefix []byte) *BinaryNode {
	return &BinaryNode{
		header: AllocHeader{Type: TypeBinary},
		prefix: append([]byte(nil), prefix...),
	}
}

func (n *BinaryNode) Header() AllocHeader   { return n.header }
func (n *BinaryNode) setHeader(h AllocHeader) { n.header = h }

func (n *BinaryNode) GetPrefix() []byte { return n.prefix }

func (n *BinaryNode) NumBranches() int { return len(n.entries) }

func (n *BinaryNode) BeginIndex() LocalIndex { return 0 }
func (n *BinaryNode) EndIndex() LocalIndex   { return LocalIndex(len(n.entries)) }
func (n *BinaryNode) NextIndex(i LocalIndex) LocalIndex { return i + 1 }
func (n *BinaryNode) PrevIndex(i LocalIndex) LocalIndex { return i - 1 }

func (n *BinaryNode) GetBranchKey(i LocalIndex) (byte, bool) {
	if int(i) >= len(n.entries) {
		return 0, false
	}
	s := n.entries[i].Suffix
	if len(s) == 0 {
		return 0, true
	}
	return s[0], false
}

// GetBranchIndex returns the index of the first entry whose suffix starts
// with k, or NoIndex if none does.
func (n *BinaryNode) GetBranchIndex(k byte) LocalIndex {
	for i, e := range n.entries {
		if len(e.Suffix) > 0 && e.Suffix[0] == k {
			return LocalIndex(i)
		}
	}
	return NoIndex
}

func (n *BinaryNode) GetValue(i LocalIndex) Value {
	if int(i) >= len(n.entries) {
		return Value{}
	}
	return n.entries[i].Value
}

func (n *BinaryNode) HasValue() bool {
	return len(n.entries) > 0 && len(n.entries[0].Suffix) == 0
}

func (n *BinaryNode) Value() Value {
	if !n.HasValue() {
		return Value{}
	}
	return n.entries[0].Value
}

func (n *BinaryNode) GetValueType() ValueType {
	return n.Value().Type
}

// GetValueAndTrailingKey performs the terminal point lookup: since a
// binary node's entries already hold the complete remaining key, a match
// is exact or it is a miss — there is no further key to consume.
func (n *BinaryNode) GetValueAndTrailingKey(key []byte) (Value, []byte, bool) {
	idx := sort.Search(len(n.entries), func(i int) bool {
		return bytes.Compare(n.entries[i].Suffix, key) >= 0
	})
	if idx < len(n.entries) && bytes.Equal(n.entries[idx].Suffix, key) {
		return n.entries[idx].Value, nil, true
	}
	return Value{}, key, false
}

// Put inserts or replaces the entry for suffix, keeping entries sorted.
func (n *BinaryNode) Put(suffix []byte, v Value) {
	idx := sort.Search(len(n.entries), func(i int) bool {
		return bytes.Compare(n.entries[i].Suffix, suffix) >= 0
	})
	if idx < len(n.entries) && bytes.Equal(n.entries[idx].Suffix, suffix) {
		n.entries[idx].Value = v
		return
	}
	n.entries = append(n.entries, binaryEntry{})
	copy(n.entries[idx+1:], n.entries[idx:])
	n.entries[idx] = binaryEntry{Suffix: append([]byte(nil), suffix...), Value: v}
}

// Delete removes the entry for suffix, reporting whether one was present.
func (n *BinaryNode) Delete(suffix []byte) bool {
	idx := sort.Search(len(n.entries), func(i int) bool {
		return bytes.Compare(n.entries[i].Suffix, suffix) >= 0
	})
	if idx >= len(n.entries) || !bytes.Equal(n.entries[idx].Suffix, suffix) {
		return false
	}
	n.entries = append(n.entries[:idx], n.entries[idx+1:]...)
	return true
}

// EncodedSize returns the number of bytes this node would occupy on disk:
// header, prefix, entry count, and every entry's suffix and payload.
func (n *BinaryNode) EncodedSize() uint32 {
	size := uint32(HeaderSize) + 2 + uint32(len(n.prefix)) + 2
	for _, e := range n.entries {
		size += 2 + uint32(len(e.Suffix)) + valueEncodedSize(e.Value)
	}
	return size
}

// Encode serializes n into dst, which must be at least EncodedSize()
// bytes. The header's Size and Checksum fields are written as they stand
// on n.header — callers finalize both (via UpdateChecksum and setting
// Size) before calling Encode.
func (n *BinaryNode) Encode(dst []byte) {
	n.header.Encode(dst)
	off := HeaderSize

	binary.LittleEndian.PutUint16(dst[off:], uint16(len(n.prefix)))
	off += 2
	off += copy(dst[off:], n.prefix)

	binary.LittleEndian.PutUint16(dst[off:], uint16(len(n.entries)))
	off += 2

	for _, e := range n.entries {
		binary.LittleEndian.PutUint16(dst[off:], uint16(len(e.Suffix)))
		off += 2
		off += copy(dst[off:], e.Suffix)
		off += encodeValue(dst[off:], e.Value)
	}
}

// DecodeBinaryNode parses a BinaryNode previously written by Encode.
func DecodeBinaryNode(src []byte) (*BinaryNode, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	off := HeaderSize

	prefixLen := int(binary.LittleEndian.Uint16(src[off:]))
	off += 2
	prefix := src[off : off+prefixLen]
	off += prefixLen

	count := int(binary.LittleEndian.Uint16(src[off:]))
	off += 2

	n := &BinaryNode{header: h, prefix: append([]byte(nil), prefix...)}
	n.entries = make([]binaryEntry, count)
	for i := 0; i < count; i++ {
		suffixLen := int(binary.LittleEndian.Uint16(src[off:]))
		off += 2
		suffix := append([]byte(nil), src[off:off+suffixLen]...)
		off += suffixLen

		v, n2, err := decodeValue(src[off:])
		if err != nil {
			return nil, err
		}
		off += n2
		n.entries[i] = binaryEntry{Suffix: suffix, Value: v}
	}
	return n, nil
}

func (n *BinaryNode) Validate() error {
	for i := 1; i < len(n.entries); i++ {
		if bytes.Compare(n.entries[i-1].Suffix, n.entries[i].Suffix) >= 0 {
			return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "binary node entries out of order").
				WithDetail("index", i)
		}
	}
	if len(n.entries) > BinaryNodeMaxKeys {
		return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "binary node exceeds max key count").
			WithDetail("count", len(n.entries))
	}
	return nil
}

func init() {
	RegisterType(TypeBinary, &NodeDescriptor{
		Name:        "binary",
		HasChecksum: true,
		CowSize: func(n Node) uint32 {
			return n.(*BinaryNode).EncodedSize()
		},
		CompactSize: func(n Node) uint32 {
			return n.(*BinaryNode).EncodedSize()
		},
		Destroy: func(n Node, release func(cb.Address)) {
			b := n.(*BinaryNode)
			for _, e := range b.entries {
				if e.Value.Type == ValueTypeNode || e.Value.Type == ValueTypeSubtree {
					release(e.Value.Address)
				}
			}
		},
		VisitChildren: func(n Node, visit func(Value)) {
			b := n.(*BinaryNode)
			for _, e := range b.entries {
				if !e.Value.IsEmpty() {
					visit(e.Value)
				}
			}
		},
	})
}

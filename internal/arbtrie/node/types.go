// Package node implements the trie node family: four concrete, tail-packed
// on-disk layouts (binary, setlist, full, value) that all satisfy the
// common Node interface, plus a process-local type-tag vtable
// (NodeDescriptor) for code that holds only an object's type tag, plus the
// refactor rules that move a node between layouts as its branch count
// changes.
package node

import "github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"

// MaxKeyLength is the longest byte-string key the engine accepts.
const MaxKeyLength = 1024

// KeyIndex is a local-index space derived directly from a key byte: 0 is
// reserved for the EOF (end-of-key) branch, byte 0x00 maps to 1, byte 0xff
// maps to 256. It is a distinct type from LocalIndex so the two index
// spaces — "derived from a key byte" versus "an internal node offset" —
// can never be silently interchanged by the compiler.
type KeyIndex uint16

// LocalIndex is an internal per-node offset with no direct relationship to
// a key byte; the setlist node's dense insertion-sorted storage is the
// clearest example of why this must not be KeyIndex.
type LocalIndex uint16

// NoIndex is the sentinel LocalIndex returned when a lookup finds no
// matching branch.
const NoIndex LocalIndex = 0xFFFF

// KeyByteToIndex converts a key byte to its KeyIndex: byte 0x00 → 1, byte
// 0xff → 256. Index 0 is reserved for EOF and is never returned here.
func KeyByteToIndex(b byte) KeyIndex {
	return KeyIndex(b) + 1
}

// IndexToKeyByte converts a non-EOF KeyIndex back to its key byte.
func IndexToKeyByte(idx KeyIndex) byte {
	return byte(idx - 1)
}

// EOFIndex is the KeyIndex reserved for a node's own (non-branching) value.
const EOFIndex KeyIndex = 0

// ValueType distinguishes what GetValue/Value returns for a branch or EOF
// slot.
type ValueType uint8

const (
	// ValueTypeNone marks an empty slot: no branch, no value.
	ValueTypeNone ValueType = iota
	// ValueTypeInline holds the value bytes directly inside the node.
	ValueTypeInline
	// ValueTypeSubtree points at the root of a nested trie (a value that
	// is itself a key/value map).
	ValueTypeSubtree
	// ValueTypeNode points at a child node one level down the trie.
	ValueTypeNode
)

// Value is the result of a branch or EOF lookup: either inline bytes or an
// address one level further down the reachability graph.
type Value struct {
	Type    ValueType
	Inline  []byte
	Address cb.Address
}

// IsEmpty reports whether this Value represents an unoccupied slot.
func (v Value) IsEmpty() bool { return v.Type == ValueTypeNone }

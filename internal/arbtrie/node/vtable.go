package node

import "github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"

// NodeDescriptor is the per-type function-pointer table indexed by the
// 7-bit type tag stored in every AllocHeader (§4.12's "type vtable"). It
// lets the allocator and compactor operate on raw encoded bytes — sizing,
// destroying, walking children, verifying checksums — without depending on
// any concrete node type, mirroring the original's function-pointer
// dispatch without a per-object virtual-table pointer.
type NodeDescriptor struct {
	// Name is the type's human-readable name, used in error messages and
	// debug dumps.
	Name string

	// CowSize returns the number of bytes a copy-on-write clone of n would
	// require, before any branch change is applied.
	CowSize func(n Node) uint32

	// CompactSize returns the number of bytes n would occupy once
	// compacted (e.g. with tail slack removed).
	CompactSize func(n Node) uint32

	// Destroy releases every child address n holds via release. It does
	// not report n's own bytes as freed; the caller does that. It is the
	// recursive half of the release cascade (§4.10).
	Destroy func(n Node, release func(addr cb.Address))

	// VisitChildren calls visit once per non-empty branch value. Setlist
	// and full nodes leave out their EOF value, which the caller handles
	// via HasValue/Value; a binary node has no separate EOF slot and visits
	// every non-empty entry, including one with an empty suffix.
	VisitChildren func(n Node, visit func(v Value))

	// HasChecksum reports whether this type stores a per-object checksum
	// (all four concrete types do; the field exists so a future
	// checksum-less type could opt out without changing the interface).
	HasChecksum bool
}

// descriptors is the process-local vtable array, populated once at package
// init() by each concrete node type's own init() function. 128 slots cover
// every value the 7-bit type tag can take.
var descriptors [128]*NodeDescriptor

// RegisterType installs descriptor under the 7-bit type tag. Concrete node
// files call this from their own init() function; it is not meant to be
// called outside this package.
func RegisterType(tag uint8, descriptor *NodeDescriptor) {
	descriptors[tag] = descriptor
}

// Descriptor returns the vtable entry for tag, or nil if no concrete type
// registered it.
func Descriptor(tag uint8) *NodeDescriptor {
	return descriptors[tag]
}

package node

import (
	"encoding/binary"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/checksum"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// HeaderSize is the fixed size of every allocation's AllocHeader, in bytes.
const HeaderSize = 12

// Type tags, the 7-bit discriminant stored in every AllocHeader and used
// to index the process-local vtable array.
const (
	TypeBinary uint8 = iota + 1
	TypeSetlist
	TypeFull
	TypeValue
)

// AllocHeader prefixes every heap allocation: a checksum over the rest of
// the object, the logical (address, sequence) pair that names it, its
// encoded size in bytes (not rounded; sessions place each object at a
// 64-byte-aligned offset, so the next object starts at Size rounded up to
// 64), and a 7-bit type tag used to dispatch through the vtable rather than
// a virtual call.
type AllocHeader struct {
	Checksum uint16
	Address  cb.Address
	Sequence cb.Sequence
	Size     uint32
	Type     uint8
}

// Encode writes h into the first HeaderSize bytes of dst.
func (h AllocHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], h.Checksum)
	binary.LittleEndian.PutUint32(dst[2:6], uint32(h.Address))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(h.Sequence))
	binary.LittleEndian.PutUint32(dst[8:12], (h.Size&0x1FFFFFF)|(uint32(h.Type&0x7F)<<25))
}

// DecodeHeader reads an AllocHeader from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) (AllocHeader, error) {
	if len(src) < HeaderSize {
		return AllocHeader{}, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "truncated object header").
			WithDetail("have", len(src)).WithDetail("want", HeaderSize)
	}
	packed := binary.LittleEndian.Uint32(src[8:12])
	return AllocHeader{
		Checksum: binary.LittleEndian.Uint16(src[0:2]),
		Address:  cb.Address(binary.LittleEndian.Uint32(src[2:6])),
		Sequence: cb.Sequence(binary.LittleEndian.Uint16(src[6:8])),
		Size:     packed & 0x1FFFFFF,
		Type:     uint8(packed >> 25),
	}, nil
}

// VerifyChecksum reports whether the checksum in h matches the object body
// that follows the header in data (data must be the full object, header
// included).
func (h AllocHeader) VerifyChecksum(data []byte) bool {
	return checksum.Verify(data[HeaderSize:], h.Checksum)
}

// UpdateChecksum recomputes Checksum from the object body that follows the
// header in data.
func (h *AllocHeader) UpdateChecksum(data []byte) {
	h.Checksum = checksum.Object(data[HeaderSize:])
}

// Decode dispatches on data's AllocHeader type tag to the matching
// concrete node's decoder, giving the allocator and compactor a single
// entry point to turn raw segment bytes back into a Node without knowing
// which concrete type lives at a given address ahead of time.
func Decode(data []byte) (Node, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case TypeBinary:
		return DecodeBinaryNode(data)
	case TypeSetlist:
		return DecodeSetlistNode(data)
	case TypeFull:
		return DecodeFullNode(data)
	case TypeValue:
		return DecodeValueNode(data)
	default:
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unknown node type tag").
			WithDetail("type", h.Type)
	}
}

// Encode serializes n into dst, which must be at least the size its
// type's vtable CowSize reports. It dispatches on n's concrete type the
// same way Decode dispatches on the stored type tag.
func Encode(n Node, dst []byte) error {
	switch v := n.(type) {
	case *BinaryNode:
		v.Encode(dst)
	case *SetlistNode:
		v.Encode(dst)
	case *FullNode:
		v.Encode(dst)
	case *ValueNode:
		v.Encode(dst)
	default:
		return errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unknown concrete node type").
			WithDetail("type", "unrecognized")
	}
	return nil
}

// EncodedSize returns how many bytes n would occupy once encoded,
// dispatching on its concrete type.
func EncodedSize(n Node) uint32 {
	switch v := n.(type) {
	case *BinaryNode:
		return v.EncodedSize()
	case *SetlistNode:
		return v.EncodedSize()
	case *FullNode:
		return v.EncodedSize()
	case *ValueNode:
		return v.EncodedSize()
	default:
		return 0
	}
}

// headerSetter is satisfied by every concrete node type, giving Finalize a
// single place to install a freshly assigned header without each call site
// needing its own type switch.
type headerSetter interface {
	setHeader(AllocHeader)
}

func typeTag(n Node) (uint8, error) {
	switch n.(type) {
	case *BinaryNode:
		return TypeBinary, nil
	case *SetlistNode:
		return TypeSetlist, nil
	case *FullNode:
		return TypeFull, nil
	case *ValueNode:
		return TypeValue, nil
	default:
		return 0, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "unknown concrete node type").
			WithDetail("type", "unrecognized")
	}
}

// Finalize assigns n its header (address, sequence, type tag, encoded
// size), serializes it, and stamps the resulting bytes with their checksum
// — the one path every node takes on its way into a segment, so a caller
// (the trie engine) never has to juggle header bookkeeping and encoding
// separately.
func Finalize(n Node, addr cb.Address, seq cb.Sequence) ([]byte, error) {
	tag, err := typeTag(n)
	if err != nil {
		return nil, err
	}
	hs, ok := n.(headerSetter)
	if !ok {
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeControlBlockInvalidState, "node type cannot accept a header")
	}

	size := EncodedSize(n)
	hs.setHeader(AllocHeader{Address: addr, Sequence: seq, Size: size, Type: tag})

	buf := make([]byte, size)
	if err := Encode(n, buf); err != nil {
		return nil, err
	}

	cs := checksum.Object(buf[HeaderSize:])
	binary.LittleEndian.PutUint16(buf[0:2], cs)
	return buf, nil
}

// Next returns the header of the object immediately following this one, by
// address arithmetic over data (data must start at this object's header).
// It is what makes a segment walkable as a sequence of self-describing
// objects for compaction and recovery.
func Next(data []byte) ([]byte, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if int(h.Size) > len(data) {
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "object size exceeds remaining segment data").
			WithDetail("size", h.Size).WithDetail("remaining", len(data))
	}
	// Objects are placed at 64-byte-aligned offsets; skip the padding.
	step := int((h.Size + 63) &^ 63)
	if step > len(data) {
		step = len(data)
	}
	return data[step:], nil
}

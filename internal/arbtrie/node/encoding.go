package node

import (
	"encoding/binary"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

// encodeValue writes v's wire form to dst (a 1-byte type tag followed by
// either a length-prefixed inline payload or a 4-byte address) and
// returns the number of bytes written.
func encodeValue(dst []byte, v Value) int {
	dst[0] = byte(v.Type)
	switch v.Type {
	case ValueTypeInline:
		binary.LittleEndian.PutUint16(dst[1:], uint16(len(v.Inline)))
		copy(dst[3:], v.Inline)
		return 3 + len(v.Inline)
	case ValueTypeNode, ValueTypeSubtree:
		binary.LittleEndian.PutUint32(dst[1:], uint32(v.Address))
		return 5
	default:
		return 1
	}
}

// valueEncodedSize returns how many bytes encodeValue would write for v.
func valueEncodedSize(v Value) uint32 {
	switch v.Type {
	case ValueTypeInline:
		return 3 + uint32(len(v.Inline))
	case ValueTypeNode, ValueTypeSubtree:
		return 5
	default:
		return 1
	}
}

// decodeValue parses a Value written by encodeValue, returning the value
// and the number of bytes consumed.
func decodeValue(src []byte) (Value, int, error) {
	if len(src) < 1 {
		return Value{}, 0, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "truncated value tag")
	}
	switch ValueType(src[0]) {
	case ValueTypeInline:
		if len(src) < 3 {
			return Value{}, 0, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "truncated inline value length")
		}
		l := int(binary.LittleEndian.Uint16(src[1:]))
		if len(src) < 3+l {
			return Value{}, 0, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "truncated inline value payload")
		}
		return Value{Type: ValueTypeInline, Inline: append([]byte(nil), src[3:3+l]...)}, 3 + l, nil
	case ValueTypeNode, ValueTypeSubtree:
		if len(src) < 5 {
			return Value{}, 0, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "truncated address value")
		}
		return Value{Type: ValueType(src[0]), Address: cb.Address(binary.LittleEndian.Uint32(src[1:]))}, 5, nil
	default:
		return Value{Type: ValueTypeNone}, 1, nil
	}
}

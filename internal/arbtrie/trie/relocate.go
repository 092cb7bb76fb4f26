package trie

import (
	"context"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/node"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/seg"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
)

// NewRelocateFunc builds the §4.4.5 compaction algorithm: walk a
// partially-live segment's objects in address order, verify each one's
// liveness against the control block it claims, copy survivors into
// compactorSession's current write segment, and CasMove their control
// blocks to the new location. It is supplied to seg.Allocator via
// SetRelocate, never via Config, for the same construction-order reason
// SetReadBarrier exists: the dedicated compactor session this closure
// closes over cannot be built before the allocator and session manager it
// depends on already exist.
func NewRelocateFunc(compactorSession *session.Session) seg.RelocateFunc {
	return func(ctx context.Context, src *seg.Segment) error {
		alloc := compactorSession.Allocator()
		cbTable := compactorSession.CBTable()

		var off uint32
		used := src.Used()

		for off < used {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			hdrBytes := src.At(off, node.HeaderSize)
			h, err := node.DecodeHeader(hdrBytes)
			if err != nil {
				return err
			}

			size := h.Size
			if size == 0 || off+size > used {
				// A zero or out-of-range size means the rest of the segment
				// was never written past this point; stop the walk here
				// rather than read garbage.
				break
			}

			if err := relocateOne(compactorSession, alloc, cbTable, src, off, h); err != nil {
				return err
			}

			// Session allocations are rounded up to 64 bytes, so the next
			// object starts at the next 64-byte boundary.
			off += (size + 63) &^ 63
		}

		return nil
	}
}

// relocateOne copies the single object described by h, stored at off within
// src, to fresh space if it is still live, and CasMoves its control block
// to the new cacheline. A dead object (its control block no longer points
// at src/off, because a concurrent COW rewrite or remove already orphaned
// it) is simply skipped — its bytes stay behind in src, which is about to
// be recycled wholesale once the segment's read-lock barrier clears.
func relocateOne(s *session.Session, alloc *seg.Allocator, cbTable *cb.Table, src *seg.Segment, off uint32, h node.AllocHeader) error {
	cbk := cbTable.Get(h.Address)
	if cbk == nil {
		return nil
	}

	srcCacheline := alloc.Cacheline(src, off)

	for {
		raw := cbk.Raw()
		cacheline, _, _ := cbk.Loc()
		if cacheline != srcCacheline {
			// Already relocated, or freed and reused, since this walk
			// started; nothing live here to move.
			return nil
		}

		full := src.At(off, h.Size)

		dstSeg, dstOff, err := s.Alloc(h.Size)
		if err != nil {
			return err
		}
		copy(dstSeg.At(dstOff, h.Size), full)

		desired := cbk.DesiredMove(raw, alloc.Cacheline(dstSeg, dstOff))
		if cbk.CasMove(raw, desired) {
			return nil
		}

		// Lost the race against a concurrent retain/release or another
		// relocation of the same object; the bytes we just copied to
		// dstSeg are wasted space, recovered the next time dstSeg itself
		// is compacted. Re-read and retry against the current word.
	}
}

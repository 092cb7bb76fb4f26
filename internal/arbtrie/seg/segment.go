// Package seg implements the segmented heap: fixed-size (32 MiB) append-only
// segments carved out of the block file, a segment allocator that recycles
// them through ready and release queues, and the background provider,
// compactor, and read-bit-decay threads that keep the heap's free space
// bounded without blocking any session's read or write path.
package seg

import (
	stdErrors "errors"
	"sync/atomic"
	"time"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/options"
)

// ErrSegmentFull is returned by Alloc when a segment has no remaining
// capacity for the requested size; callers rotate to a new segment rather
// than treating this as a failure.
var ErrSegmentFull = stdErrors.New("segment: insufficient remaining space")

// Segment flag bits, stored in SegmentMeta.Flags.
const (
	FlagPinned uint32 = 1 << iota
	FlagReadOnly
	FlagFree
	// FlagPendingRecycle marks a segment the compactor has fully processed
	// (emptied of live content, directly or via relocation) but not yet
	// handed back to the ready queue: it is waiting for RecycleEpoch to
	// clear the session read-lock protocol's min(R*) barrier (§4.7).
	FlagPendingRecycle
)

// SegmentMeta is the out-of-band bookkeeping the allocator keeps for every
// segment: its state flags, how many bytes of its content are known
// garbage, its virtual age for the compactor's priority ordering, and the
// end-pointer key it was enqueued under while awaiting the read-lock
// barrier (valid only while FlagPendingRecycle is set).
type SegmentMeta struct {
	Flags        uint32
	FreedSpace   atomic.Uint32
	VirtualAge   time.Duration
	RecycleEpoch atomic.Uint64
}

// Segment is one fixed-size append-only region of the block file. Writers
// append via Alloc, which is lock-free (a compare-and-swap loop on the
// write cursor).
type Segment struct {
	number   uint32
	data     []byte
	writePos atomic.Uint32
	meta     *SegmentMeta

	// bf and fileOffset back this segment's Commit; set by the allocator
	// at mint time, never touched by code outside this package.
	bf         *blockfile.BlockFile
	fileOffset uint64
}

func newSegment(number uint32, data []byte, meta *SegmentMeta) *Segment {
	return &Segment{number: number, data: data, meta: meta}
}

// Number returns this segment's index within the allocator's segment table.
func (s *Segment) Number() uint32 { return s.number }

// Meta returns the segment's out-of-band bookkeeping record.
func (s *Segment) Meta() *SegmentMeta { return s.meta }

// Capacity returns the segment's total size in bytes.
func (s *Segment) Capacity() uint32 { return uint32(len(s.data)) }

// Used returns how many bytes have been appended so far.
func (s *Segment) Used() uint32 { return s.writePos.Load() }

// Alloc reserves size bytes at the end of the segment's written region and
// returns the byte offset they start at. It is lock-free: a
// compare-and-swap loop on the write cursor that retries whenever another
// writer moved the cursor first. If the reservation would overrun the
// segment, nothing is reserved and ErrSegmentFull is returned.
func (s *Segment) Alloc(size uint32) (uint32, error) {
	for {
		cur := s.writePos.Load()
		next := cur + size
		if next > uint32(len(s.data)) || next < cur /* overflow */ {
			return 0, ErrSegmentFull
		}
		if s.writePos.CompareAndSwap(cur, next) {
			return cur, nil
		}
	}
}

// Bytes returns the segment's full backing slice.
func (s *Segment) Bytes() []byte { return s.data }

// At returns the size-byte slice starting at offset off within the
// segment.
func (s *Segment) At(off, size uint32) []byte {
	return s.data[off : off+size]
}

// MarkFreed records additional garbage bytes in this segment, called when
// a COW rewrite or remove orphans a previously-live object. It does not
// reclaim space immediately — only the compactor does that, once
// FreedSpace crosses the configured threshold.
func (s *Segment) MarkFreed(n uint32) {
	s.meta.FreedSpace.Add(n)
}

// IsFull reports whether the segment has no usable remaining space for an
// object of the given size.
func (s *Segment) IsFull(forSize uint32) bool {
	return s.writePos.Load()+forSize > uint32(len(s.data))
}

// Commit makes everything written so far durable according to mode,
// following the sync ladder from weakest to strongest: none does nothing;
// mprotect write-protects the written range without flushing; the msync
// variants additionally request an async or sync flush; fsync and full
// additionally flush the underlying block file (full requesting the
// strongest durability the platform offers). A committed segment is
// write-protected at SyncMprotect and above. Commit sets no flag on the
// segment: Alloc keeps accepting reservations against it afterwards.
func (s *Segment) Commit(mode options.SyncMode) error {
	n := uint64(s.writePos.Load())

	if mode >= options.SyncMprotect {
		if err := s.bf.Mprotect(s.fileOffset, n, false); err != nil {
			return err
		}
	}

	switch mode {
	case options.SyncMsyncAsync:
		return s.bf.Msync(s.fileOffset, n, true)
	case options.SyncMsyncSync:
		return s.bf.Msync(s.fileOffset, n, false)
	case options.SyncFsync, options.SyncFull:
		if err := s.bf.Msync(s.fileOffset, n, false); err != nil {
			return err
		}
		return s.bf.Fsync(mode == options.SyncFull)
	}

	return nil
}

// validateSegmentSize checks the configured segment size against the
// engine's power-of-two-and-bounds rule, reusing the same validation shape
// the blockfile package applies to its block size.
func validateSegmentSize(size uint32) error {
	if size == 0 || size&(size-1) != 0 {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "segment size must be a non-zero power of two").
			WithField("SegmentOptions.Size").WithProvided(size)
	}
	if uint64(size) < options.MinSegmentSize || uint64(size) > options.MaxSegmentSize {
		return errors.NewFieldRangeError("SegmentOptions.Size", size, options.MinSegmentSize, options.MaxSegmentSize)
	}
	return nil
}

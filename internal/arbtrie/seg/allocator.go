package seg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/metrics"
	"github.com/iamNilotpal/arbtrie/pkg/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// readyQueueDepth bounds how many freshly-minted segments the provider
// thread keeps on hand for writers to claim without waiting on a block
// file extension.
const readyQueueDepth = 8

// releaseQueueDepth bounds the release channel; a full channel falls back
// to updating FreedSpace directly rather than ever blocking the reporting
// session.
const releaseQueueDepth = 256

// RelocateFunc copies every still-live object out of src into freshly
// allocated space elsewhere, returning once src holds no reachable
// content. It is supplied by the trie engine, which is the only component
// that understands node layouts well enough to walk a segment's contents;
// the allocator itself only decides *when* a segment qualifies for
// compaction, never how to relocate what's inside it.
type RelocateFunc func(ctx context.Context, src *Segment) error

// ReadBarrier is the session read-lock protocol's half of the compactor
// contract (§4.7): AdvanceEndPointer records that a segment has been
// queued for eventual recycling and returns its enqueue key, and MinRStar
// reports the minimum lock pointer published across every live session. A
// segment enqueued at key k is only safe to actually free once
// MinRStar() > k. *session.Manager satisfies this interface structurally;
// Allocator depends only on the interface (never on package session,
// which itself imports seg for *Segment/*Allocator) to avoid an import
// cycle, and since a Manager cannot be constructed before its Allocator
// is, the barrier is wired in after the fact via SetReadBarrier rather
// than through Config.
type ReadBarrier interface {
	AdvanceEndPointer() uint64
	MinRStar() uint64
}

// Config configures a segment Allocator.
type Config struct {
	BlockFile *blockfile.BlockFile
	CBTable   *cb.Table

	SegmentSize uint32
	Sync        *options.SyncOptions
	Compaction  *options.CompactionOptions
	Cache       *options.CacheOptions

	Relocate RelocateFunc
	Metrics  *metrics.Allocator
	Logger   *zap.SugaredLogger
}

type freedSpan struct {
	segment uint32
	bytes   uint32
}

// Allocator owns the segmented heap: it mints and recycles fixed-size
// segments from the underlying block file, and runs the provider,
// compactor, and read-bit-decay background threads.
type Allocator struct {
	bf      *blockfile.BlockFile
	cbTable *cb.Table
	segSize uint32

	mu       sync.Mutex
	segments []*Segment
	ageAccs  []*VAgeAccumulator

	ready   chan uint32
	release chan freedSpan

	pinnedBytes atomic.Uint64
	maxPinned   uint64

	decayZone atomic.Uint32
	decaySlot atomic.Uint32

	sync        *options.SyncOptions
	compaction  *options.CompactionOptions
	cache       *options.CacheOptions
	relocate    RelocateFunc
	readBarrier ReadBarrier

	metrics *metrics.Allocator
	log     *zap.SugaredLogger
	closed  atomic.Bool
}

// SetReadBarrier wires the session manager's end-pointer/min(R*) protocol
// into the compactor. It must be called once, after both the Allocator and
// the session.Manager backing it exist — construction order makes this
// impossible to supply via Config, since session.NewManager requires an
// already-built *Allocator. Until this is called, the compactor recycles
// segments without waiting on any session's read lock, which is only
// correct for tests that never open a session against a live allocator.
func (a *Allocator) SetReadBarrier(rb ReadBarrier) {
	a.readBarrier = rb
}

// SetRelocate wires the compaction walk the trie engine implements into the
// allocator. Like SetReadBarrier, this must be supplied after construction:
// RelocateFunc closes over a dedicated compactor *session.Session, and a
// session can only be started against an already-built Allocator/Manager
// pair. Until this is called (cfg.Relocate was also nil), RunCompactor
// recycles only fully-garbage segments and leaves partially-live ones
// untouched.
func (a *Allocator) SetRelocate(fn RelocateFunc) {
	a.relocate = fn
}

// NewAllocator constructs an Allocator over an already-open block file.
func NewAllocator(cfg Config) (*Allocator, error) {
	if cfg.BlockFile == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "BlockFile is required").WithField("BlockFile")
	}
	if err := validateSegmentSize(cfg.SegmentSize); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	sync := cfg.Sync
	if sync == nil {
		sync = &options.SyncOptions{SyncMode: options.SyncFsync}
	}
	compaction := cfg.Compaction
	if compaction == nil {
		compaction = &options.CompactionOptions{Interval: options.DefaultCompactInterval}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &options.CacheOptions{MaxPinnedCacheSizeMB: options.DefaultMaxPinnedCacheSizeMB}
	}

	return &Allocator{
		bf:         cfg.BlockFile,
		cbTable:    cfg.CBTable,
		segSize:    cfg.SegmentSize,
		ready:      make(chan uint32, readyQueueDepth),
		release:    make(chan freedSpan, releaseQueueDepth),
		maxPinned:  cache.MaxPinnedCacheSizeMB * 1024 * 1024,
		sync:       sync,
		compaction: compaction,
		cache:      cache,
		relocate:   cfg.Relocate,
		metrics:    cfg.Metrics,
		log:        log,
	}, nil
}

// mintSegment allocates a brand new block-file block and wraps it as a
// fresh Segment and SegmentMeta, appending it to the allocator's segment
// table.
func (a *Allocator) mintSegment() (*Segment, error) {
	blockN, err := a.bf.Alloc()
	if err != nil {
		return nil, err
	}

	meta := &SegmentMeta{}
	s := newSegment(uint32(blockN), a.bf.Get(blockN), meta)
	s.bf = a.bf
	s.fileOffset = blockN * uint64(a.bf.BlockSize())

	a.mu.Lock()
	for uint32(len(a.segments)) <= s.number {
		a.segments = append(a.segments, nil)
		a.ageAccs = append(a.ageAccs, nil)
	}
	a.segments[s.number] = s
	a.ageAccs[s.number] = &VAgeAccumulator{}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.SegmentsAllocated.Inc()
		a.metrics.ActiveSegments.Inc()
	}

	return s, nil
}

// GetNewSegment returns a segment for a writer to append into: a recycled
// one from the ready queue if available, otherwise a freshly minted one.
// When preferPinned is true and the pinned-cache budget allows it, the
// segment is mlock'd and flagged FlagPinned.
func (a *Allocator) GetNewSegment(preferPinned bool) (*Segment, error) {
	var s *Segment

	select {
	case segNum := <-a.ready:
		a.mu.Lock()
		s = a.segments[segNum]
		a.mu.Unlock()
		s.writePos.Store(0)
		s.meta.FreedSpace.Store(0)
		s.meta.Flags &^= FlagFree
		if a.metrics != nil {
			a.metrics.SegmentsRecycled.Inc()
		}
	default:
		var err error
		s, err = a.mintSegment()
		if err != nil {
			return nil, err
		}
	}

	if preferPinned && a.pinnedBytes.Load()+uint64(s.Capacity()) <= a.maxPinned {
		if err := a.bf.Mlock(s.fileOffset, uint64(s.Capacity())); err == nil {
			s.meta.Flags |= FlagPinned
			a.pinnedBytes.Add(uint64(s.Capacity()))
			if a.metrics != nil {
				a.metrics.PinnedSegments.Inc()
			}
		}
	}

	return s, nil
}

// ReportFreed records that n bytes within segmentNumber's content are now
// garbage. It never blocks: a full release channel falls back to applying
// the update directly.
func (a *Allocator) ReportFreed(segmentNumber uint32, n uint32) {
	select {
	case a.release <- freedSpan{segment: segmentNumber, bytes: n}:
	default:
		a.mu.Lock()
		s := a.segments[segmentNumber]
		a.mu.Unlock()
		if s != nil {
			s.MarkFreed(n)
		}
	}
}

func (a *Allocator) drainReleaseQueue() {
	for {
		select {
		case span := <-a.release:
			a.mu.Lock()
			s := a.segments[span.segment]
			a.mu.Unlock()
			if s != nil {
				s.MarkFreed(span.bytes)
			}
		default:
			return
		}
	}
}

// RunProvider keeps the ready queue topped up so writers almost never wait
// on a fresh block-file extension. It runs until ctx is cancelled.
func (a *Allocator) RunProvider(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		fill:
			for len(a.ready) < readyQueueDepth {
				if a.closed.Load() {
					return nil
				}
				s, err := a.mintSegment()
				if err != nil {
					return err
				}
				select {
				case a.ready <- s.number:
				default:
					// The channel is unexpectedly full despite the length
					// check (a racing consumer drained it); stop minting
					// for this tick rather than spin.
					break fill
				}
			}
			if a.metrics != nil {
				a.metrics.ReadyQueueDepth.Set(float64(len(a.ready)))
			}
		}
	}
}

// RunCompactor periodically scans for segments whose freed space has
// crossed their pinned/unpinned eligibility threshold, relocates any
// surviving live content via the configured RelocateFunc, and queues
// fully-garbage segments for recycling. Every tick it also sweeps
// already-queued segments and actually returns to the ready queue whichever
// ones the read-lock barrier has now cleared (§4.4.5/§4.7).
func (a *Allocator) RunCompactor(ctx context.Context) error {
	ticker := time.NewTicker(a.compaction.Interval)
	defer ticker.Stop()

	pinnedThreshold := a.compaction.CompactPinnedUnusedThresholdMB * 1024 * 1024
	unpinnedThreshold := a.compaction.CompactUnpinnedUnusedThresholdMB * 1024 * 1024

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.drainReleaseQueue()

			a.mu.Lock()
			segments := append([]*Segment(nil), a.segments...)
			a.mu.Unlock()

			a.settlePendingRecycles(segments)

			for _, s := range segments {
				if s == nil || s.meta.Flags&(FlagFree|FlagPendingRecycle) != 0 {
					continue
				}

				threshold := unpinnedThreshold
				if s.meta.Flags&FlagPinned != 0 {
					threshold = pinnedThreshold
				}
				freed := uint64(s.meta.FreedSpace.Load())
				if freed < threshold {
					continue
				}

				if freed >= uint64(s.Used()) {
					a.enqueueForRecycle(s)
					continue
				}

				if a.relocate != nil {
					if err := a.relocate(ctx, s); err != nil {
						a.log.Errorw("relocation failed during compaction", "segment", s.number, "error", err)
						continue
					}
					a.enqueueForRecycle(s)
				}
			}
		}
	}
}

// enqueueForRecycle marks s as holding no reachable content and records
// the end pointer its recycling is keyed against. The segment is not
// handed back to the ready queue yet — a session that dereferenced an
// address inside s before this point may still be holding a pointer into
// it under its read lock, and the session/segment epoch protocol (§4.7)
// only guarantees that's no longer possible once every live session's R*
// has advanced past this key.
func (a *Allocator) enqueueForRecycle(s *Segment) {
	var epoch uint64
	if a.readBarrier != nil {
		epoch = a.readBarrier.AdvanceEndPointer()
	}
	s.meta.RecycleEpoch.Store(epoch)
	s.meta.Flags |= FlagPendingRecycle
}

// settlePendingRecycles promotes every FlagPendingRecycle segment whose
// recorded enqueue key min(R*) has now advanced past back into the ready
// queue. With no read barrier wired (SetReadBarrier never called — true
// only for harnesses that never open a session against this allocator),
// every pending segment is settled immediately.
func (a *Allocator) settlePendingRecycles(segments []*Segment) {
	var minRStar uint64
	if a.readBarrier != nil {
		minRStar = a.readBarrier.MinRStar()
	}

	for _, s := range segments {
		if s == nil || s.meta.Flags&FlagPendingRecycle == 0 {
			continue
		}
		if a.readBarrier != nil && minRStar <= s.meta.RecycleEpoch.Load() {
			continue
		}
		a.finishRecycle(s)
	}
}

// finishRecycle actually reclaims s: unpins it if needed, resets its write
// position and freed-space counter (the written bytes themselves are left
// in place), and hands it back to the ready queue for reuse.
func (a *Allocator) finishRecycle(s *Segment) {
	if s.meta.Flags&FlagPinned != 0 {
		if err := a.bf.Munlock(s.fileOffset, uint64(s.Capacity())); err == nil {
			a.pinnedBytes.Add(-uint64(s.Capacity()))
			if a.metrics != nil {
				a.metrics.PinnedSegments.Dec()
			}
		}
		s.meta.Flags &^= FlagPinned
	}

	s.meta.Flags &^= FlagPendingRecycle
	s.meta.Flags |= FlagFree
	s.meta.RecycleEpoch.Store(0)
	s.writePos.Store(0)
	s.meta.FreedSpace.Store(0)

	select {
	case a.ready <- s.number:
		if a.metrics != nil {
			a.metrics.SegmentsCompacted.Inc()
			a.metrics.BytesFreedByCompact.Add(float64(s.Capacity()))
		}
	default:
		// Ready queue is already full; put the segment back in the pending
		// state so the next compactor tick offers it to the queue again.
		s.meta.Flags = (s.meta.Flags &^ FlagFree) | FlagPendingRecycle
	}
}

// RunReadBitDecay sweeps the control-block table clearing active bits, a
// fixed fraction of the table per tick so a full sweep completes once
// every ReadCacheWindow regardless of table size.
func (a *Allocator) RunReadBitDecay(ctx context.Context) error {
	if a.cbTable == nil {
		<-ctx.Done()
		return nil
	}

	const ticksPerCycle = 100
	interval := a.cache.ReadCacheWindow / ticksPerCycle
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			zone, slot := a.decayZone.Load(), a.decaySlot.Load()
			// Each control-block zone holds 1<<22 slots; visiting
			// 1/ticksPerCycle of them per tick covers the table once a window.
			budget := (a.cbTable.ZoneCount()*(1<<22) + ticksPerCycle - 1) / ticksPerCycle
			nz, ns, _ := a.cbTable.DecaySweep(zone, slot, budget)
			a.decayZone.Store(nz)
			a.decaySlot.Store(ns)
		}
	}
}

// Close marks the allocator closed; background threads are stopped by
// cancelling the context they were started with (see pkg/supervisor), not
// by this method.
func (a *Allocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "allocator already closed")
	}

	var err error
	if a.sync.SyncMode >= options.SyncFsync {
		a.mu.Lock()
		segments := append([]*Segment(nil), a.segments...)
		a.mu.Unlock()
		for _, s := range segments {
			if s == nil || s.meta.Flags&FlagFree != 0 {
				continue
			}
			if commitErr := s.Commit(a.sync.SyncMode); commitErr != nil {
				err = multierr.Append(err, commitErr)
			}
		}
	}

	return err
}

// CommitSegment finalizes s using the allocator's configured sync mode, for
// a session closing out a write segment it is done appending to.
func (a *Allocator) CommitSegment(s *Segment) error {
	return s.Commit(a.sync.SyncMode)
}

// Cacheline converts a byte offset off within segment s into the global
// cacheline index stored in a control block's location word (§3.2): the
// segment's absolute file offset plus off, divided down to a 64-byte
// cacheline. The inverse of Resolve.
func (a *Allocator) Cacheline(s *Segment, off uint32) uint64 {
	return (s.fileOffset + uint64(off)) / uint64(options.CachelineSize)
}

// Locate decomposes a global cacheline offset into the segment number and
// local byte offset it falls within, the inverse of Cacheline.
func (a *Allocator) Locate(cacheline uint64) (segNum, localOff uint32) {
	byteOff := cacheline * uint64(options.CachelineSize)
	return uint32(byteOff / uint64(a.segSize)), uint32(byteOff % uint64(a.segSize))
}

// Resolve returns the size-byte slice a control block's cacheline offset
// names, looking up the segment it falls within and translating back to a
// local byte offset. It is the read path's only way to turn a stored
// location back into bytes, so every object access — node decode, value
// fetch, relocation — goes through it.
func (a *Allocator) Resolve(cacheline uint64, size uint32) ([]byte, error) {
	segNum, localOff := a.Locate(cacheline)

	a.mu.Lock()
	var s *Segment
	if int(segNum) < len(a.segments) {
		s = a.segments[segNum]
	}
	a.mu.Unlock()

	if s == nil {
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "cacheline references an unknown segment").
			WithDetail("segment", segNum).WithDetail("cacheline", cacheline)
	}
	if localOff+size > s.Capacity() {
		return nil, errors.NewCorruptionError(nil, errors.ErrorCodeSegmentCorrupted, "resolved object range exceeds segment bounds").
			WithDetail("segment", segNum).WithDetail("offset", localOff).WithDetail("size", size)
	}
	return s.At(localOff, size), nil
}

// SegmentCount returns the number of segments minted so far, for metrics
// and debug dumps.
func (a *Allocator) SegmentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

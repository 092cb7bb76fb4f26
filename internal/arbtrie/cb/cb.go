// Package cb implements the control-block table: the lock-free indirection
// layer between a 32-bit logical address (Address) and the physical
// location of the object it names. Every control block is a single atomic
// 64-bit word packing a saturating reference count, a 41-bit cacheline
// offset, and two status bits (active, pending_cache) — never a plain
// struct field, so every read, retain, release, and relocation is a single
// atomic operation with no locking on the hot path.
package cb

import (
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/bitmap"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"go.uber.org/zap"
)

// Address is a 32-bit logical address (the spec's ptr_address): an index
// into the control-block table, stable for the lifetime of the object it
// names even as the compactor relocates the underlying bytes.
type Address uint32

// Sequence is the 16-bit generation counter paired with an Address to
// detect stale references after an address has been freed and reused.
type Sequence uint16

const (
	refBits       = 21
	cachelineBits = 41
	refMask       = uint64(1)<<refBits - 1
	cachelineMask = uint64(1)<<cachelineBits - 1

	refShift       = 0
	cachelineShift = refBits
	activeShift    = refBits + cachelineBits
	pendingShift   = activeShift + 1

	activeBit  = uint64(1) << activeShift
	pendingBit = uint64(1) << pendingShift

	// ptrsPerZone is the number of control-block slots per zone: a 32 MiB
	// zone of 8-byte words holds 2^22 of them.
	ptrsPerZone = 1 << 22
)

func pack(ref uint32, cacheline uint64, active, pending bool) uint64 {
	w := (uint64(ref) & refMask) << refShift
	w |= (cacheline & cachelineMask) << cachelineShift
	if active {
		w |= activeBit
	}
	if pending {
		w |= pendingBit
	}
	return w
}

func unpack(w uint64) (ref uint32, cacheline uint64, active, pending bool) {
	ref = uint32((w >> refShift) & refMask)
	cacheline = (w >> cachelineShift) & cachelineMask
	active = w&activeBit != 0
	pending = w&pendingBit != 0
	return
}

// ControlBlock is a handle onto one atomic control word. It is only valid
// for as long as the Address it was obtained from remains allocated.
type ControlBlock struct {
	word   *atomic.Uint64
	addr   Address
	satMax uint32
}

// Address returns the logical address this control block is bound to.
func (cbk *ControlBlock) Address() Address { return cbk.addr }

// Retain increments the reference count, reporting false and leaving the
// count unchanged if doing so would approach saturation — the caller must
// fall back to a slower, lock-protected path rather than risk overflowing
// the 21-bit field under a pathological retain storm.
func (cbk *ControlBlock) Retain() bool {
	for {
		old := cbk.word.Load()
		ref, cacheline, active, pending := unpack(old)
		if ref >= cbk.satMax {
			return false
		}
		next := pack(ref+1, cacheline, active, pending)
		if cbk.word.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Release decrements the reference count and returns the count observed
// immediately before the decrement.
func (cbk *ControlBlock) Release() uint32 {
	for {
		old := cbk.word.Load()
		ref, cacheline, active, pending := unpack(old)
		next := pack(ref-1, cacheline, active, pending)
		if cbk.word.CompareAndSwap(old, next) {
			return ref
		}
	}
}

// Loc returns the object's current cacheline offset and status bits.
func (cbk *ControlBlock) Loc() (cacheline uint64, active, pendingCache bool) {
	_, cacheline, active, pendingCache = unpack(cbk.word.Load())
	return
}

// RefCount returns the control block's current reference count.
func (cbk *ControlBlock) RefCount() uint32 {
	ref, _, _, _ := unpack(cbk.word.Load())
	return ref
}

// Raw returns the full 64-bit control word, for callers (the compactor)
// that need to compute a desired word themselves before calling CasMove.
func (cbk *ControlBlock) Raw() uint64 { return cbk.word.Load() }

// DesiredMove builds the control word the compactor should CasMove expected
// to after relocating this object to newCacheline: same reference count and
// status bits, new location. Callers re-read Raw and recompute on a failed
// CasMove, since expected may have changed underneath them.
func (cbk *ControlBlock) DesiredMove(expected uint64, newCacheline uint64) uint64 {
	ref, _, active, pending := unpack(expected)
	return pack(ref, newCacheline, active, pending)
}

// CasMove attempts to swap the control word from expected to desired,
// typically used by the compactor to update the cacheline location of a
// relocated object while leaving the reference count and status bits it
// already accounted for in desired. Returns false if the word has changed
// since expected was read (e.g. a concurrent retain/release), in which
// case the caller must re-read Raw and retry.
func (cbk *ControlBlock) CasMove(expected, desired uint64) bool {
	return cbk.word.CompareAndSwap(expected, desired)
}

// TryIncActivity sets the active bit if unset, returning true only on the
// transition from unset to set (idempotent no-op otherwise). Used by the
// read path to mark an object as recently accessed for cache promotion.
func (cbk *ControlBlock) TryIncActivity() bool {
	for {
		old := cbk.word.Load()
		if old&activeBit != 0 {
			return false
		}
		if cbk.word.CompareAndSwap(old, old|activeBit) {
			return true
		}
	}
}

// ClearActivity clears the active bit, used by the read-bit-decay thread.
func (cbk *ControlBlock) ClearActivity() {
	for {
		old := cbk.word.Load()
		if old&activeBit == 0 {
			return
		}
		if cbk.word.CompareAndSwap(old, old&^activeBit) {
			return
		}
	}
}

// SetPendingCache sets or clears the pending_cache bit, used to mark an
// object as queued for promotion into the pinned cache.
func (cbk *ControlBlock) SetPendingCache(pending bool) {
	for {
		old := cbk.word.Load()
		var next uint64
		if pending {
			next = old | pendingBit
		} else {
			next = old &^ pendingBit
		}
		if old == next || cbk.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// zone is one 32 MiB slab of control-block words plus the allocation
// bitmap tracking which slots in it are in use.
type zone struct {
	index uint32
	mu    sync.Mutex
	words []atomic.Uint64
	used  *bitmap.Bitmap
}

func newZone(index uint32) *zone {
	return &zone{index: index, words: make([]atomic.Uint64, ptrsPerZone), used: bitmap.New(ptrsPerZone)}
}

// allocSlot finds a free slot in the zone and marks it used, returning its
// in-zone index. The bitmap's FindFirstUnset scans the zone's words in
// order, skipping full words, and returns the lowest free slot; there is
// no separate random-probe step.
func (z *zone) allocSlot() (uint32, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	idx, ok := z.used.SetFirstUnset()
	if !ok {
		return 0, false
	}
	return uint32(idx), true
}

func (z *zone) freeSlot(idx uint32) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.used.Reset(uint64(idx))
}

func (z *zone) markUsed(idx uint32) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.used.Set(uint64(idx))
}

// Config configures a control-block Table.
type Config struct {
	// MaxThreads bounds how many concurrent retains may be "in flight"
	// above the steady-state reference count; the saturation margin is
	// derived from it so a retain storm rolls back instead of overflowing.
	MaxThreads uint32
	Logger     *zap.SugaredLogger
}

// Table is the full control-block table: a growable list of zones.
type Table struct {
	mu     sync.Mutex
	zones  []*zone
	satMax uint32
	log    *zap.SugaredLogger
}

// New constructs an empty Table. Zones are created lazily as Alloc demands
// them, except zone 0's slot 0: Address(0) is the null-address sentinel
// relied on throughout the engine (an empty root slot, an absent child
// branch), so it is reserved up front and never handed out by Alloc.
func New(cfg Config) (*Table, error) {
	maxThreads := cfg.MaxThreads
	if maxThreads == 0 {
		maxThreads = 1
	}
	if uint64(maxThreads) >= refMask {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "MaxThreads too large for 21-bit reference count").
			WithField("MaxThreads").WithProvided(maxThreads)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	t := &Table{
		satMax: uint32(refMask) - maxThreads,
		log:    log,
	}
	z := t.growZone()
	z.markUsed(0)
	return t, nil
}

func (t *Table) zoneAt(idx uint32) *zone {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) < len(t.zones) {
		return t.zones[idx]
	}
	return nil
}

func (t *Table) growZone() *zone {
	t.mu.Lock()
	defer t.mu.Unlock()
	z := newZone(uint32(len(t.zones)))
	t.zones = append(t.zones, z)
	return z
}

func addressFor(zoneIdx, slot uint32) Address {
	return Address(uint64(zoneIdx)*ptrsPerZone + uint64(slot))
}

func splitAddress(addr Address) (zoneIdx, slot uint32) {
	return uint32(uint64(addr) / ptrsPerZone), uint32(uint64(addr) % ptrsPerZone)
}

// Alloc allocates a fresh control-block address, initialized to a zero
// control word (ref 0, cacheline 0, no flags). hint is a set of
// recently-freed addresses to try first for locality; it may be nil.
func (t *Table) Alloc(hint []Address) (Address, error) {
	for _, h := range hint {
		zoneIdx, _ := splitAddress(h)
		if z := t.zoneAt(zoneIdx); z != nil {
			if slot, ok := z.allocSlot(); ok {
				return addressFor(zoneIdx, slot), nil
			}
		}
	}

	t.mu.Lock()
	zones := append([]*zone(nil), t.zones...)
	t.mu.Unlock()

	for _, z := range zones {
		if slot, ok := z.allocSlot(); ok {
			return addressFor(z.index, slot), nil
		}
	}

	z := t.growZone()
	slot, ok := z.allocSlot()
	if !ok {
		return 0, errors.NewStorageError(nil, errors.ErrorCodeAddressSpaceExhausted, "failed to allocate a control block in a freshly grown zone")
	}
	return addressFor(z.index, slot), nil
}

// Free marks addr's slot free for reuse. It does not inspect the control
// word's reference count — callers must only free an address once they
// have established (via the session/segment epoch protocol) that no
// reader can still observe it.
func (t *Table) Free(addr Address) {
	zoneIdx, slot := splitAddress(addr)
	if z := t.zoneAt(zoneIdx); z != nil {
		z.words[slot].Store(0)
		z.freeSlot(slot)
	}
}

// Get returns the ControlBlock handle for addr. The zone backing addr must
// already exist (allocated via Alloc or GetOrAlloc); returns nil otherwise.
func (t *Table) Get(addr Address) *ControlBlock {
	zoneIdx, slot := splitAddress(addr)
	z := t.zoneAt(zoneIdx)
	if z == nil {
		return nil
	}
	return &ControlBlock{word: &z.words[slot], addr: addr, satMax: t.satMax}
}

// GetOrAlloc returns the ControlBlock at addr, growing the zone table (and
// marking the slot used) if necessary. Used by the crash-recovery path,
// which discovers live addresses by scanning segments rather than by
// calling Alloc.
func (t *Table) GetOrAlloc(addr Address) *ControlBlock {
	zoneIdx, slot := splitAddress(addr)

	t.mu.Lock()
	for uint32(len(t.zones)) <= zoneIdx {
		t.zones = append(t.zones, newZone(uint32(len(t.zones))))
	}
	z := t.zones[zoneIdx]
	t.mu.Unlock()

	z.markUsed(slot)
	return &ControlBlock{word: &z.words[slot], addr: addr, satMax: t.satMax}
}

// Init sets addr's control word directly to the given cacheline/flags with
// ref count 0, used when first publishing a newly allocated object's
// location.
func (t *Table) Init(addr Address, cacheline uint64, active, pending bool) {
	cbk := t.Get(addr)
	if cbk == nil {
		return
	}
	cbk.word.Store(pack(0, cacheline, active, pending))
}

// ZoneCount returns the number of zones currently allocated, for metrics
// and debug dumps.
func (t *Table) ZoneCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.zones)
}

// DecaySweep clears the active bit on up to budget control blocks,
// resuming from (startZone, startSlot) and wrapping across zones. It
// returns the cursor to resume from on the next call and how many control
// blocks it actually visited (fewer than budget only if the table is
// empty). The read-bit-decay background thread calls this repeatedly so a
// full sweep of the table completes once per ReadCacheWindow, regardless
// of how many zones exist.
func (t *Table) DecaySweep(startZone, startSlot uint32, budget int) (nextZone, nextSlot uint32, visited int) {
	t.mu.Lock()
	zones := append([]*zone(nil), t.zones...)
	t.mu.Unlock()

	if len(zones) == 0 {
		return 0, 0, 0
	}

	zi, slot := startZone, startSlot
	for visited < budget {
		if int(zi) >= len(zones) {
			zi = 0
		}
		if slot >= ptrsPerZone {
			slot = 0
			zi++
			continue
		}

		cbk := ControlBlock{word: &zones[zi].words[slot], satMax: t.satMax}
		cbk.ClearActivity()

		visited++
		slot++
	}

	return zi, slot, visited
}

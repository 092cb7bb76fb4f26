package seg

import (
	"sync"
	"time"
)

// VAgeAccumulator tracks a size-weighted running average of object age for
// a segment: Add folds in one object, Merge folds in another accumulator,
// and Mean reports the weighted mean. The allocator creates one per
// segment, but no allocator, compactor or session path calls Add, Merge or
// Reset on it, and the compactor does not consult it when choosing which
// segments to reclaim.
type VAgeAccumulator struct {
	mu        sync.Mutex
	totalSize uint64
	weighted  float64 // weighted sum of age-in-nanoseconds * size
}

// Add folds in an object of the given size and age into the running
// weighted average.
func (v *VAgeAccumulator) Add(size uint32, age time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.totalSize += uint64(size)
	v.weighted += float64(age) * float64(size)
}

// Mean returns the current size-weighted mean age, or zero if nothing has
// been added yet.
func (v *VAgeAccumulator) Mean() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.totalSize == 0 {
		return 0
	}
	return time.Duration(v.weighted / float64(v.totalSize))
}

// Reset clears the accumulator. Nothing in the engine calls it.
func (v *VAgeAccumulator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalSize = 0
	v.weighted = 0
}

// Merge folds another accumulator's state into this one, used when
// multiple source segments are compacted into a single destination
// segment.
func (v *VAgeAccumulator) Merge(other *VAgeAccumulator) {
	other.mu.Lock()
	otherSize, otherWeighted := other.totalSize, other.weighted
	other.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalSize += otherSize
	v.weighted += otherWeighted
}

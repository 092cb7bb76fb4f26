// Package bitmap implements the hierarchical bitmap described in the
// allocator design: first-free / mark-free lookups over up to millions of
// indices, stored as a multi-level tree of 64-bit words where each bit at
// level k is 1 iff the corresponding word at level k-1 has any set bit.
// First-free lookups scan the bit level word by word, skipping full words.
// It backs both free-segment tracking in the segment allocator and
// free-control-block tracking in the control-block table.
package bitmap

import (
	"math/bits"

	"github.com/iamNilotpal/arbtrie/pkg/errors"
)

const wordBits = 64

// Bitmap is a fixed-capacity bitmap backed by a small tree of uint64 words.
// Level 0 holds the actual bits; each level above summarizes the level
// below with one bit per word. Set and Reset update the summary levels in
// O(log64 N); FindFirstUnset scans level 0 linearly.
// The zero value is not usable; construct with New.
type Bitmap struct {
	capacity uint64
	levels   [][]uint64 // levels[0] is the bit-holding level, levels[len-1] is the single root word (or few words)
}

// New creates a Bitmap with room for at least capacity bits, all
// initialized to unset (free). Levels above the bit level are always sized
// to a single summarizing tree, even when capacity requires multiple root
// words.
func New(capacity uint64) *Bitmap {
	b := &Bitmap{capacity: capacity}

	level0Words := wordsFor(capacity)
	b.levels = append(b.levels, make([]uint64, level0Words))

	words := level0Words
	for words > 1 {
		words = wordsFor(uint64(words))
		b.levels = append(b.levels, make([]uint64, words))
	}

	return b
}

func wordsFor(bitCount uint64) int {
	if bitCount == 0 {
		return 1
	}
	return int((bitCount + wordBits - 1) / wordBits)
}

// Capacity returns the number of addressable bits.
func (b *Bitmap) Capacity() uint64 { return b.capacity }

// Test reports whether bit i is set. It returns false (and leaves no trace)
// for indices beyond Capacity, matching the spec's boundary behavior: a
// bitmap with 50 set bits in a non-multiple-of-64 capacity rejects Test(50)
// by construction — index 50 is simply never reachable if capacity is 50.
func (b *Bitmap) Test(i uint64) bool {
	if i >= b.capacity {
		return false
	}
	word, bit := i/wordBits, i%wordBits
	return b.levels[0][word]&(1<<bit) != 0
}

// Set marks bit i used, propagating the summary bit upward through every
// level whose underlying word just became fully non-zero-relevant (i.e.
// whenever the word it summarizes transitions from all-zero to having at
// least one set bit).
func (b *Bitmap) Set(i uint64) {
	if i >= b.capacity {
		return
	}
	b.setLevel(0, i)
}

func (b *Bitmap) setLevel(level int, i uint64) {
	word, bit := i/wordBits, i%wordBits
	before := b.levels[level][word]
	after := before | (1 << bit)
	b.levels[level][word] = after

	if before == 0 && level+1 < len(b.levels) {
		// The word just became non-empty; propagate one bit upward.
		b.setLevel(level+1, word)
	}
}

// Reset marks bit i free, propagating the summary bit downward-cleared
// through every level whose underlying word just became entirely zero.
func (b *Bitmap) Reset(i uint64) {
	if i >= b.capacity {
		return
	}
	b.resetLevel(0, i)
}

func (b *Bitmap) resetLevel(level int, i uint64) {
	word, bit := i/wordBits, i%wordBits
	b.levels[level][word] &^= 1 << bit

	if b.levels[level][word] == 0 && level+1 < len(b.levels) {
		b.resetLevel(level+1, word)
	}
}

// FindFirstUnset returns the lowest-indexed unset bit and true, or
// (0, false) if every addressable bit is set. It scans level 0 from the
// first word, skipping words with every bit set. The summary levels are not
// used here: a summary bit records that its child word has any set bit,
// not that the child is full, so it cannot steer a search for a free bit.
func (b *Bitmap) FindFirstUnset() (uint64, bool) {
	return b.findFirstUnset(0, 0)
}

// findFirstUnset searches level for the first unset bit starting at
// wordIndex, returning the absolute bit index at level 0. FindFirstUnset
// calls it with level 0 only; from an upper level the descent below
// follows unset summary bits, which mark empty children.
func (b *Bitmap) findFirstUnset(level int, wordIndex uint64) (uint64, bool) {
	words := b.levels[level]
	if wordIndex >= uint64(len(words)) {
		return 0, false
	}

	for w := wordIndex; w < uint64(len(words)); w++ {
		word := words[w]
		if word == ^uint64(0) {
			continue
		}

		// This word has at least one unset bit.
		bit := firstZeroBit(word)
		childWord := w*wordBits + uint64(bit)

		if level == 0 {
			if childWord >= b.capacity {
				continue
			}
			return childWord, true
		}

		if idx, ok := b.findFirstUnset(level-1, childWord); ok {
			return idx, true
		}
		// Nothing found below this child; move on to the next word.
	}

	return 0, false
}

func firstZeroBit(word uint64) int {
	return bits.TrailingZeros64(^word)
}

// SetFirstUnset finds the first unset bit, sets it, and returns its index.
// Returns (0, false) if the bitmap is full.
func (b *Bitmap) SetFirstUnset() (uint64, bool) {
	idx, ok := b.FindFirstUnset()
	if !ok {
		return 0, false
	}
	b.Set(idx)
	return idx, true
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	var n uint64
	for _, w := range b.levels[0] {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

// Validate checks the invariant that every upper-level bit equals the OR
// of its 64 children at the level below. It returns a *errors.CorruptionError
// identifying the first violated (level, word, bit) on failure, so fault
// injection tests can assert exactly what was corrupted.
func (b *Bitmap) Validate() error {
	for level := 1; level < len(b.levels); level++ {
		childLevel := b.levels[level-1]
		parentLevel := b.levels[level]

		for word := 0; word < len(childLevel); word++ {
			expectedBit := childLevel[word] != 0
			parentWord, parentBit := word/wordBits, word%wordBits
			actualBit := parentLevel[parentWord]&(1<<uint(parentBit)) != 0

			if expectedBit != actualBit {
				return errors.NewCorruptionError(
					nil, errors.ErrorCodeControlBlockInvalidState,
					"hierarchical bitmap summary bit does not match its child word",
				).WithDetail("level", level).
					WithDetail("childWord", word).
					WithDetail("expected", expectedBit).
					WithDetail("actual", actualBit)
			}
		}
	}

	return nil
}

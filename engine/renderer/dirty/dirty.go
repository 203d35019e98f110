// Package dirty provides a fixed-width bitmap over instance regions. A set bit means the
// region's host copy has diverged from the device buffer and must be recopied on the next flush.
package dirty

import (
	"errors"
	"fmt"
	"iter"
	"math/bits"
)

const (
	// Blocks is the number of 64-bit words in the bitmap.
	Blocks = 4

	// BitsPerBlock is the number of regions tracked by one word.
	BitsPerBlock = 64

	// Regions is the number of addressable regions.
	Regions = Blocks * BitsPerBlock
)

// ErrRegionOutOfRange is returned by TryMark for a region outside [0, Regions).
var ErrRegionOutOfRange = errors.New("dirty: region out of range")

// DirtyFlags is a bit-set of Regions region indices. The zero value has all bits clear.
// It is not safe for concurrent use; owners guard it with their own lock.
type DirtyFlags struct {
	blocks [Blocks]uint64
}

// New returns a bitmap with all bits clear.
func New() DirtyFlags {
	return DirtyFlags{}
}

// Mark sets the bit for region.
// Marking an index outside [0, Regions) is a programmer error and panics.
//
// Parameters:
//   - region: the region index
func (d *DirtyFlags) Mark(region int) {
	if err := d.TryMark(region); err != nil {
		panic(err.Error())
	}
}

// TryMark sets the bit for region, returning an error instead of panicking when out of range.
//
// Parameters:
//   - region: the region index
//
// Returns:
//   - error: ErrRegionOutOfRange (wrapped) if region is not addressable
func (d *DirtyFlags) TryMark(region int) error {
	if region < 0 || region >= Regions {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrRegionOutOfRange, region, Regions)
	}
	d.blocks[region/BitsPerBlock] |= 1 << uint(region%BitsPerBlock)
	return nil
}

// IsMarked reports whether region is set. Out of range indices report false.
func (d *DirtyFlags) IsMarked(region int) bool {
	if region < 0 || region >= Regions {
		return false
	}
	return d.blocks[region/BitsPerBlock]&(1<<uint(region%BitsPerBlock)) != 0
}

// IterMarked yields the set region indices in ascending order.
// The sequence reads a snapshot of the bitmap and may be ranged over any number of times.
//
// Returns:
//   - iter.Seq[int]: the marked regions
func (d *DirtyFlags) IterMarked() iter.Seq[int] {
	snapshot := d.blocks
	return func(yield func(int) bool) {
		for b, word := range snapshot {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				if !yield(b*BitsPerBlock + bit) {
					return
				}
				word &= word - 1
			}
		}
	}
}

// Runs yields each maximal run of contiguous set regions as (start, length), ascending.
// Runs continue across block boundaries.
//
// Returns:
//   - iter.Seq2[int, int]: the runs
func (d *DirtyFlags) Runs() iter.Seq2[int, int] {
	snapshot := d.blocks
	return func(yield func(int, int) bool) {
		work := snapshot
		for b := 0; b < Blocks; {
			if work[b] == 0 {
				b++
				continue
			}
			start := b*BitsPerBlock + bits.TrailingZeros64(work[b])
			length := 0
			for b < Blocks {
				bit := bits.TrailingZeros64(work[b])
				ones := bits.TrailingZeros64(^(work[b] >> uint(bit)))
				// ones == 64 only when the block is fully set from bit 0.
				if bit+ones > BitsPerBlock {
					ones = BitsPerBlock - bit
				}
				length += ones
				if bit+ones < BitsPerBlock {
					work[b] &^= mask(bit, ones)
					break
				}
				work[b] = 0
				b++
				if b == Blocks || work[b]&1 == 0 {
					break
				}
			}
			if !yield(start, length) {
				return
			}
		}
	}
}

// mask returns a word with n bits set starting at bit lo.
func mask(lo, n int) uint64 {
	if n >= BitsPerBlock {
		return ^uint64(0)
	}
	return ((1 << uint(n)) - 1) << uint(lo)
}

// Count returns the number of set regions.
func (d *DirtyFlags) Count() int {
	n := 0
	for _, word := range d.blocks {
		n += bits.OnesCount64(word)
	}
	return n
}

// Any reports whether any region is set.
func (d *DirtyFlags) Any() bool {
	for _, word := range d.blocks {
		if word != 0 {
			return true
		}
	}
	return false
}

// Clear zeroes all bits.
func (d *DirtyFlags) Clear() {
	d.blocks = [Blocks]uint64{}
}

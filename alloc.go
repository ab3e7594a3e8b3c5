package flogfs

import (
	"fmt"
	"sort"
)

// alloc.go implements the free-block allocator and wear-leveling
// preallocation heap of spec §4.4 (component C5): a pool of free offsets
// refilled from a bitmap scan, reused oldest-reserved first to spread wear,
// using an age-threshold/prealloc-heap algorithm instead of a plain LRU
// free list.

// dirtySlot is the one-slot "allocated but not yet erased/used" protocol of
// spec §4.4/§9 ("Dirty block"). Exactly one allocation may be pending at a
// time; any subsequent allocation first forces it to completion.
type dirtySlot struct {
	valid  bool
	erased bool
	block  uint32
	age    uint32
}

type preallocEntry struct {
	block uint32
	age   uint32
}

// preallocHeap is the fixed-capacity, ascending-by-age preallocation buffer
// of spec §4.4. A plain sorted slice is used rather than container/heap:
// the operations needed are "insert keeping ascending order, evict the
// largest when over capacity, peek/pop the smallest", none of which benefit
// from a binary heap's O(log n) extract-min over a slice with a handful of
// entries (PreallocSize defaults to 10).
type preallocHeap struct {
	entries []preallocEntry
	cap     int
	ageSum  uint64
}

func newPreallocHeap(capacity int) *preallocHeap {
	return &preallocHeap{cap: capacity}
}

// push inserts ascending by age, evicting the oldest entry if the heap is
// over capacity afterward (spec §4.4 "prealloc_push").
func (h *preallocHeap) push(e preallocEntry) {
	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].age >= e.age })
	h.entries = append(h.entries, preallocEntry{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = e
	h.ageSum += uint64(e.age)

	if len(h.entries) > h.cap {
		evicted := h.entries[len(h.entries)-1]
		h.entries = h.entries[:len(h.entries)-1]
		h.ageSum -= uint64(evicted.age)
	}
}

// pop returns the youngest entry if it meets threshold against meanFreeAge,
// per spec §4.4 "prealloc_pop".
func (h *preallocHeap) pop(threshold int32, meanFreeAge uint32) (preallocEntry, bool) {
	if len(h.entries) == 0 {
		return preallocEntry{}, false
	}
	youngest := h.entries[0]
	if !sufficientAge(meanFreeAge, youngest.age, threshold) {
		return preallocEntry{}, false
	}
	h.entries = h.entries[1:]
	h.ageSum -= uint64(youngest.age)
	return youngest, true
}

// sufficientAge implements spec §4.4's signed-arithmetic age test: a
// candidate of age A is sufficient against threshold iff
// (mean_free_age - A) >= threshold.
func sufficientAge(meanFreeAge, age uint32, threshold int32) bool {
	return int32(meanFreeAge)-int32(age) >= threshold
}

func (fs *Filesystem) bitmapBytes() int {
	return int((fs.geo.NBlocks + 7) / 8)
}

func (fs *Filesystem) isFree(block uint32) bool {
	return fs.freeBitmap[block/8]&(1<<(block%8)) != 0
}

func (fs *Filesystem) setFree(block uint32, free bool) {
	mask := byte(1) << (block % 8)
	if free {
		fs.freeBitmap[block/8] |= mask
	} else {
		fs.freeBitmap[block/8] &^= mask
	}
}

func (fs *Filesystem) recomputeMeanFreeAge() {
	if fs.numFreeBlocks == 0 {
		fs.meanFreeAge = 0
		return
	}
	fs.meanFreeAge = uint32(fs.freeBlockSum / uint64(fs.numFreeBlocks))
}

// markFreeLocked does the raw free-pool bookkeeping with no locking of its
// own: callers already hold whichever of allocMu/deleteMu is appropriate to
// their caller (spec §5 forbids holding both at once).
func (fs *Filesystem) markFreeLocked(block, age uint32) {
	fs.setFree(block, true)
	fs.numFreeBlocks++
	fs.freeBlockSum += uint64(age)
	fs.recomputeMeanFreeAge()
}

// markFree returns a block to the free pool with a known age (spec
// invariant 6/8), used by format.go after an erase.
func (fs *Filesystem) markFree(block, age uint32) {
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()
	fs.markFreeLocked(block, age)
}

// claimFreeBlock removes a block from the free pool's accounting (the
// caller has already decided to allocate it).
func (fs *Filesystem) claimFreeBlock(block, age uint32) {
	fs.setFree(block, false)
	fs.numFreeBlocks--
	fs.freeBlockSum -= uint64(age)
	fs.recomputeMeanFreeAge()
}

// allocateIterate examines the bit at allocateHead, advances it, and (only
// on a hit) reads the candidate block's stat record for its age — spec
// §4.4 "allocate_block_iterate".
func (fs *Filesystem) allocateIterate() (block, age uint32, ok bool, err error) {
	block = fs.allocateHead
	fs.allocateHead = (fs.allocateHead + 1) % fs.geo.NBlocks
	if !fs.isFree(block) || fs.isQuarantined(block) {
		return 0, 0, false, nil
	}
	st, valid, err := fs.readBlockStat(block)
	if err != nil {
		return 0, 0, false, fmt.Errorf("flogfs: reading stat of candidate block %d: %w", block, err)
	}
	if valid {
		age = st.Age
	}
	return block, age, true, nil
}

// eraseDirty performs the lazy erase of the currently pending dirty block,
// per spec §9's resolved open question: erase always precedes the header
// write that follows. It is idempotent.
func (fs *Filesystem) eraseDirty() error {
	if !fs.dirty.valid || fs.dirty.erased {
		return nil
	}
	if err := fs.pc.erase(fs.dirty.block); err != nil {
		fs.quarantine(fs.dirty.block, err)
		fs.dirty.valid = false
		return fmt.Errorf("%w: erasing block %d", ErrBadBlock, fs.dirty.block)
	}
	fs.dirty.erased = true
	return nil
}

// clearDirty releases the one-slot protocol once the new block's header
// has been durably written.
func (fs *Filesystem) clearDirty(block uint32) {
	if fs.dirty.valid && fs.dirty.block == block {
		fs.dirty.valid = false
	}
}

// allocateBlock is spec §4.4's allocate_block(threshold): it first flushes
// any stranded dirty-slot reservation, then loops up to NBlocks times
// between the prealloc heap and a fresh bitmap scan, decrementing threshold
// on every rejected candidate so allocation always eventually succeeds.
// On success the returned block is the new dirty-slot holder, reserved but
// not yet erased.
func (fs *Filesystem) allocateBlock(threshold int32) (block, age uint32, err error) {
	fs.allocMu.Lock()
	defer fs.allocMu.Unlock()

	if err := fs.flushDirtyBlockLocked(); err != nil {
		return 0, 0, err
	}

	if fs.numFreeBlocks == 0 {
		return 0, 0, ErrNoSpace
	}

	th := threshold
	for i := uint32(0); i < fs.geo.NBlocks; i++ {
		if e, ok := fs.prealloc.pop(th, fs.meanFreeAge); ok {
			fs.claimFreeBlock(e.block, e.age)
			if e.age+1 > fs.maxBlockAge {
				fs.maxBlockAge = e.age + 1
			}
			fs.dirty = dirtySlot{valid: true, block: e.block, age: e.age}
			return e.block, e.age, nil
		}

		cand, candAge, ok, err := fs.allocateIterate()
		if err != nil {
			return 0, 0, err
		}
		if ok {
			if sufficientAge(fs.meanFreeAge, candAge, th) {
				fs.claimFreeBlock(cand, candAge)
				if candAge+1 > fs.maxBlockAge {
					fs.maxBlockAge = candAge + 1
				}
				fs.dirty = dirtySlot{valid: true, block: cand, age: candAge}
				return cand, candAge, nil
			}
			fs.prealloc.push(preallocEntry{block: cand, age: candAge})
		}
		th--
	}
	return 0, 0, ErrNoSpace
}

// flushDirtyBlockLocked runs with allocMu already held (from inside
// allocateBlock).
func (fs *Filesystem) flushDirtyBlockLocked() error {
	if !fs.dirty.valid {
		return nil
	}
	block, age := fs.dirty.block, fs.dirty.age
	if err := fs.eraseDirty(); err != nil {
		return err
	}
	fs.dirty.valid = false
	fs.markFreeLocked(block, age)
	return nil
}

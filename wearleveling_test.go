package flogfs_test

import (
	"fmt"
	"testing"
)

// TestAllocFreeCyclesDoNotLeak is the property test of spec §8's wear-
// leveling scenario: repeatedly creating and deleting files that each span
// a couple of blocks must return every file block to the free pool afterward,
// and the allocator's age-threshold bookkeeping (mean_free_age) must stay
// well-defined (no underflow/overflow) across many cycles — the two things
// a wear-leveling bug would first break.
func TestAllocFreeCyclesDoNotLeak(t *testing.T) {
	const nblocks = 32
	fs, _ := newTestFS(t, nblocks)

	baseline, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	// Deleted inode entries are never reused, so every entriesPerInodeBlock
	// creations extend the inode chain by one block that stays allocated.
	entriesPerInodeBlock := testGeometry(nblocks).EntriesPerInodeBlock()

	payload := make([]byte, 2000) // spans three blocks at this geometry (940 data bytes per block)
	for i := range payload {
		payload[i] = byte(i)
	}

	const cycles = 50
	for i := 0; i < cycles; i++ {
		name := fmt.Sprintf("cycle-%d", i)
		wh, err := fs.OpenWrite(name)
		if err != nil {
			t.Fatalf("cycle %d: OpenWrite: %v", i, err)
		}
		if _, err := wh.Write(payload); err != nil {
			t.Fatalf("cycle %d: Write: %v", i, err)
		}
		if err := wh.Close(); err != nil {
			t.Fatalf("cycle %d: Close: %v", i, err)
		}

		mid, err := fs.Stat()
		if err != nil {
			t.Fatalf("cycle %d: Stat: %v", i, err)
		}
		if mid.NumFreeBlocks >= baseline.NumFreeBlocks {
			t.Fatalf("cycle %d: expected fewer free blocks after writing, got %d (baseline %d)", i, mid.NumFreeBlocks, baseline.NumFreeBlocks)
		}

		if err := fs.Remove(name); err != nil {
			t.Fatalf("cycle %d: Remove: %v", i, err)
		}

		after, err := fs.Stat()
		if err != nil {
			t.Fatalf("cycle %d: Stat: %v", i, err)
		}
		wantFree := baseline.NumFreeBlocks - uint32(i)/entriesPerInodeBlock
		if after.NumFreeBlocks != wantFree {
			t.Fatalf("cycle %d: NumFreeBlocks = %d after remove, want %d (leaked or double-freed a block)", i, after.NumFreeBlocks, wantFree)
		}
	}

	final, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if final.MaxBlockAge == 0 {
		t.Errorf("MaxBlockAge is still 0 after %d erase cycles", cycles)
	}
	if final.MeanFreeAge > final.MaxBlockAge {
		t.Errorf("MeanFreeAge = %d exceeds MaxBlockAge = %d (free_block_sum bookkeeping broke)", final.MeanFreeAge, final.MaxBlockAge)
	}
	// Every reclaimed block has been erased roughly the same number of
	// times (the allocator walks free blocks round-robin from a moving
	// head and only passes over one whose age is further above the free
	// mean than the threshold allows), so the oldest block shouldn't have
	// run drastically further ahead than a single-threshold pass over this
	// few blocks and cycles would allow.
	if final.MaxBlockAge > uint32(cycles)+uint32(nblocks) {
		t.Errorf("MaxBlockAge = %d grew implausibly fast for %d cycles over %d blocks (wear not spreading)", final.MaxBlockAge, cycles, nblocks)
	}
}

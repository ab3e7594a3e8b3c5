package flogfs_test

import (
	"testing"

	"github.com/flogfs/flogfs"
)

// TestRemoveReclaims exercises spec §4.7: deleting a file returns its whole
// chain to the free pool and the name stops existing.
func TestRemoveReclaims(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	before, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	wh, err := fs.OpenWrite("gone.txt")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if _, err := wh.Write([]byte("temporary")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mid, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mid.NumFreeBlocks != before.NumFreeBlocks-1 {
		t.Fatalf("after create, NumFreeBlocks = %d, want %d", mid.NumFreeBlocks, before.NumFreeBlocks-1)
	}

	if err := fs.Remove("gone.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	after, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if after.NumFreeBlocks != before.NumFreeBlocks {
		t.Errorf("after remove, NumFreeBlocks = %d, want %d (leaked a block)", after.NumFreeBlocks, before.NumFreeBlocks)
	}

	ok, err := fs.Exists("gone.txt")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Errorf("gone.txt still exists after Remove")
	}

	if _, err := fs.OpenRead("gone.txt"); err != flogfs.ErrNotFound {
		t.Errorf("OpenRead(gone.txt) = %v, want ErrNotFound", err)
	}
}

// TestRemoveTwiceFails exercises spec §7 "idempotent deletion": repeated
// removes are each individually reported as failure, never as a partial
// mutation of an otherwise-consistent filesystem.
func TestRemoveTwiceFails(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	wh, err := fs.OpenWrite("once.txt")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	wh.Close()

	if err := fs.Remove("once.txt"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := fs.Remove("once.txt"); err == nil {
		t.Errorf("second Remove succeeded, want an error")
	}

	// the filesystem must still be usable afterward.
	if _, err := fs.OpenWrite("again.txt"); err != nil {
		t.Errorf("OpenWrite after a failed Remove: %v", err)
	}
}

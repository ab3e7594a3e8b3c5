package flogfs_test

import (
	"testing"

	"github.com/flogfs/flogfs"
	"github.com/flogfs/flogfs/flashsim"
)

// testGeometry is small enough to exercise block boundaries in a handful of
// bytes: 16 sectors/block (4 sectors/page * 4 pages/block), 64-byte
// sectors. The "image" is generated fresh per test rather than checked in,
// since FLogFS has no fixed reference file format to read against.
func testLayout(nblocks uint32) flashsim.Layout {
	return flashsim.Layout{
		SectorSize:     64,
		SpareBytes:     16,
		SectorsPerPage: 4,
		PagesPerBlock:  4,
		NBlocks:        nblocks,
	}
}

func testGeometry(nblocks uint32) flogfs.Geometry {
	return flogfs.Geometry{
		SectorSize:     64,
		SectorsPerPage: 4,
		PagesPerBlock:  4,
		NBlocks:        nblocks,
		MaxFilenameLen: flogfs.MaxFilenameLen,
		PreallocSize:   4,
	}
}

// newTestFS formats and mounts a fresh in-memory volume of nblocks blocks,
// returning both the handle and the underlying driver (tests that simulate
// a crash need to keep the driver around and open a second Filesystem over
// it without going through the first handle's Close).
func newTestFS(t *testing.T, nblocks uint32) (*flogfs.Filesystem, *flashsim.Mem) {
	t.Helper()
	mem := flashsim.NewMem(testLayout(nblocks))
	fs, err := flogfs.New(mem, testGeometry(nblocks))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs, mem
}

func TestFormatMountEmpty(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	it, err := fs.ListStart()
	if err != nil {
		t.Fatalf("ListStart: %v", err)
	}
	_, ok, err := it.Next()
	it.Stop()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Errorf("freshly formatted volume should have no live files")
	}

	st, err := fs.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.NBlocks != 16 {
		t.Errorf("NBlocks = %d, want 16", st.NBlocks)
	}
	// one block is consumed by inode0 itself.
	if st.NumFreeBlocks != 15 {
		t.Errorf("NumFreeBlocks = %d, want 15", st.NumFreeBlocks)
	}
}

// TestMountIsIdempotent exercises spec §8's "mount(); mount() is a no-op on
// the second call".
func TestMountIsIdempotent(t *testing.T) {
	fs, _ := newTestFS(t, 16)
	if err := fs.Mount(); err != nil {
		t.Errorf("second Mount returned %v, want nil", err)
	}
}

func TestExistsAndNotFound(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	ok, err := fs.Exists("nope")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Errorf("Exists(nope) = true on an empty volume")
	}

	if _, err := fs.OpenRead("nope"); err != flogfs.ErrNotFound {
		t.Errorf("OpenRead(nope) = %v, want ErrNotFound", err)
	}
	if err := fs.Remove("nope"); err != flogfs.ErrNotFound {
		t.Errorf("Remove(nope) = %v, want ErrNotFound", err)
	}
}

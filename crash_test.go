package flogfs_test

import (
	"bytes"
	"testing"

	"github.com/flogfs/flogfs"
)

// TestCrashBetweenBlockLinkAndInitRecovers simulates the exact crash window
// spec §4.10's allocation-recovery targets: a write that fills a block's
// tail sector exactly, triggering commitTail to allocate and link a
// successor block, followed by the process dying before that successor's
// own init sector is ever stamped (WriteHandle.Close never runs, so the
// synchronous repair in Close never gets a chance either). A fresh mount
// over the same media must repair it.
func TestCrashBetweenBlockLinkAndInitRecovers(t *testing.T) {
	fs1, mem := newTestFS(t, 16)

	// This geometry's first block holds exactly 940 bytes of file data
	// (56 in sector 0 after its header, 13*64 in sectors 1..13, 52 in the
	// tail sector after its header) before a write must cross into a new
	// block.
	payload := bytes.Repeat([]byte{'x'}, 940)

	wh, err := fs1.OpenWrite("crashy")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	n, err := wh.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write returned %d, want %d", n, len(payload))
	}
	// Deliberately no wh.Close(): the successor block commitTail just
	// linked is now erased and durably linked from the predecessor's tail
	// header, but its own init sector was never stamped. fs1 is abandoned
	// here exactly as a crashed process would be; mem (the underlying
	// media) survives and is reopened fresh below.

	fs2, err := flogfs.New(mem, testGeometry(16))
	if err != nil {
		t.Fatalf("New (remount): %v", err)
	}
	if err := fs2.Mount(); err != nil {
		t.Fatalf("Mount (recovery): %v", err)
	}

	st, err := fs2.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.NumFreeBlocks >= st.NBlocks {
		t.Fatalf("NumFreeBlocks = %d looks corrupted (NBlocks = %d)", st.NumFreeBlocks, st.NBlocks)
	}

	rh, err := fs2.OpenRead("crashy")
	if err != nil {
		t.Fatalf("OpenRead after recovery: %v", err)
	}
	got := readAll(t, rh)
	rh.Close()
	if !bytes.Equal(got, payload) {
		t.Errorf("post-recovery read got %d bytes, want %d matching the pre-crash payload", len(got), len(payload))
	}

	// The recovered chain must still accept further appends.
	wh2, err := fs2.OpenWrite("crashy")
	if err != nil {
		t.Fatalf("OpenWrite after recovery: %v", err)
	}
	if _, err := wh2.Write([]byte("more")); err != nil {
		t.Fatalf("Write after recovery: %v", err)
	}
	if err := wh2.Close(); err != nil {
		t.Fatalf("Close after recovery: %v", err)
	}

	rh2, err := fs2.OpenRead("crashy")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	got2 := readAll(t, rh2)
	rh2.Close()
	want := append(append([]byte{}, payload...), []byte("more")...)
	if !bytes.Equal(got2, want) {
		t.Errorf("post-recovery append mismatch: got %d bytes, want %d", len(got2), len(want))
	}
}

// TestCrashBeforeFirstByteRecovers simulates a crash immediately after
// OpenWrite on a brand new file — the inode entry is durable but not a
// single byte of the first block was ever written, so its init sector was
// never stamped either. Mount must reconstruct it from the inode entry
// alone (spec §4.10's inode-chain pass, not the block pass).
func TestCrashBeforeFirstByteRecovers(t *testing.T) {
	fs1, mem := newTestFS(t, 16)

	if _, err := fs1.OpenWrite("stillborn"); err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	// No Write, no Close: fs1 is abandoned here.

	fs2, err := flogfs.New(mem, testGeometry(16))
	if err != nil {
		t.Fatalf("New (remount): %v", err)
	}
	if err := fs2.Mount(); err != nil {
		t.Fatalf("Mount (recovery): %v", err)
	}

	ok, err := fs2.Exists("stillborn")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Errorf("stillborn should exist (its inode entry was durable) after recovery")
	}

	wh, err := fs2.OpenWrite("stillborn")
	if err != nil {
		t.Fatalf("OpenWrite after recovery: %v", err)
	}
	if _, err := wh.Write([]byte("payload")); err != nil {
		t.Fatalf("Write after recovery: %v", err)
	}
	if err := wh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := fs2.OpenRead("stillborn")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	got := readAll(t, rh)
	rh.Close()
	if string(got) != "payload" {
		t.Errorf("got %q, want %q", got, "payload")
	}
}

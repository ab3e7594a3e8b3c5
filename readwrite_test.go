package flogfs_test

import (
	"bytes"
	"io"
	"testing"
)

func readAll(t *testing.T, rh interface{ Read([]byte) (int, error) }) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 17) // odd size on purpose: exercises partial-sector reads
	for {
		n, err := rh.Read(buf)
		out = append(out, buf[:n]...)
		if n == 0 && err == nil {
			break // spec §4.5: EOF of committed data is reported as a short read, not io.EOF
		}
		if err != nil && err != io.EOF {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	wh, err := fs.OpenWrite("hello.txt")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	want := []byte("the quick brown fox jumps over the lazy dog")
	n, err := wh.Write(want)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Write returned %d, want %d", n, len(want))
	}
	if err := wh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := fs.OpenRead("hello.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	got := readAll(t, rh)
	if err := rh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read back %q, want %q", got, want)
	}
}

func TestWriteReadCrossBlock(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	// One block's total data capacity at this geometry is 56 (sector 0,
	// after its 8-byte header) + 13*64 (sectors 1..13) + 52 (tail sector,
	// after its 12-byte header) = 940 bytes. Write well past that so the
	// chain must span at least two blocks.
	want := bytes.Repeat([]byte("0123456789"), 300) // 3000 bytes

	wh, err := fs.OpenWrite("big.bin")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	n, err := wh.Write(want)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Write returned %d, want %d", n, len(want))
	}
	if err := wh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := fs.OpenRead("big.bin")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	got := readAll(t, rh)
	if err := rh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("cross-block read mismatch: got %d bytes, want %d", len(got), len(want))
	}
}

// TestAppendResumesAtLogicalEnd exercises spec §4.6 "Open-write... If the
// file exists, seek to its logical end": two separate OpenWrite/Close
// cycles on the same name must concatenate, never overwrite.
func TestAppendResumesAtLogicalEnd(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	wh, err := fs.OpenWrite("log.txt")
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if _, err := wh.Write([]byte("first ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wh2, err := fs.OpenWrite("log.txt")
	if err != nil {
		t.Fatalf("second OpenWrite: %v", err)
	}
	if _, err := wh2.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wh2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := fs.OpenRead("log.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	got := readAll(t, rh)
	rh.Close()

	want := "first second"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestListEnumeratesLiveFiles(t *testing.T) {
	fs, _ := newTestFS(t, 16)

	names := []string{"a", "b", "c"}
	for _, n := range names {
		wh, err := fs.OpenWrite(n)
		if err != nil {
			t.Fatalf("OpenWrite(%s): %v", n, err)
		}
		if _, err := wh.Write([]byte(n)); err != nil {
			t.Fatalf("Write(%s): %v", n, err)
		}
		if err := wh.Close(); err != nil {
			t.Fatalf("Close(%s): %v", n, err)
		}
	}

	it, err := fs.ListStart()
	if err != nil {
		t.Fatalf("ListStart: %v", err)
	}
	defer it.Stop()

	seen := map[string]bool{}
	for {
		name, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen[name] = true
	}
	for _, n := range names {
		if !seen[n] {
			t.Errorf("ls did not report %q", n)
		}
	}
}

package flogfs

import "fmt"

// readfile.go implements the sequential file read path of spec §4.5
// inode in a plain sequential io.SectionReader-style view — generalized
// here from "one contiguous compressed blob" to "a singly-linked chain of
// fixed-size flash blocks".

// ReadHandle is an open-for-read file (spec §6 "open_read"/"read"). It is
// not safe for concurrent use, and every method re-enters the owning
// Filesystem's lock.
type ReadHandle struct {
	fs     *Filesystem
	name   string
	fileID uint32

	block           uint32
	sector          uint32
	offset          uint32
	sectorRemaining uint32

	closed bool
}

func (fs *Filesystem) openRead(name string) (*ReadHandle, error) {
	_, entry, found, err := fs.findFile(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	rh := &ReadHandle{fs: fs, name: name, fileID: entry.FileID, block: entry.FirstBlock}

	hdr, _, err := fs.readFileInit(rh.block)
	if err != nil {
		return nil, fmt.Errorf("flogfs: opening %q for read: %w", name, err)
	}
	if hdr.FileID != rh.fileID {
		return nil, fmt.Errorf("%w: first block of %q carries file_id %d, inode says %d", ErrCorrupt, name, hdr.FileID, rh.fileID)
	}

	sp0, err := fs.readFileSpare(rh.block, 0)
	if err != nil {
		return nil, err
	}
	if sp0.NBytes != 0 {
		rh.sector = 0
		rh.offset = fileInitHeaderSize
		rh.sectorRemaining = uint32(sp0.NBytes)
	} else {
		rh.sector = 1
		rh.offset = 0
		sp1, err := fs.readFileSpare(rh.block, 1)
		if err != nil {
			return nil, err
		}
		if isErasedSpare(sp1) {
			rh.sectorRemaining = 0 // nothing past the header was ever written
		} else {
			rh.sectorRemaining = uint32(sp1.NBytes)
		}
	}
	return rh, nil
}

// sectorDataOffset returns the byte offset data starts at within a
// sector, accounting for the init/tail header prefixes (spec §4.1/§4.5).
func (fs *Filesystem) sectorDataOffset(sector uint32) uint32 {
	switch {
	case sector == 0:
		return fileInitHeaderSize
	case sector == fs.geo.TailSector():
		return fileTailHeaderSize
	default:
		return 0
	}
}

// advance crosses a sector boundary, following the chain into the next
// block when the tail sector is exhausted (spec §4.5 "increment_sector").
// It reports EOF (ok=false, err=nil) when data simply hasn't been written
// that far yet — never as an error, matching spec §7 ("not-found is
// benign").
func (rh *ReadHandle) advance() (ok bool, err error) {
	fs := rh.fs
	if rh.sector < fs.geo.TailSector() {
		rh.sector++
	} else {
		tail, hasTail, err := fs.readFileTail(rh.block)
		if err != nil {
			return false, err
		}
		if !hasTail || tail.NextBlock == invalidU16 {
			return false, nil
		}
		nextBlock := uint32(tail.NextBlock)
		nextHdr, _, err := fs.readFileInit(nextBlock)
		if err != nil {
			return false, err
		}
		if nextHdr.FileID != rh.fileID {
			return false, nil
		}
		rh.block = nextBlock
		rh.sector = 0
	}

	rh.offset = fs.sectorDataOffset(rh.sector)
	sp, err := fs.readFileSpare(rh.block, rh.sector)
	if err != nil {
		return false, err
	}
	if sp.TypeID == uint8(typeUnallocated) && sp.NBytes == uint16(invalidU16) {
		return false, nil // erased-state sector: not written yet
	}
	rh.sectorRemaining = uint32(sp.NBytes)
	return true, nil
}

// Read copies up to len(dst) bytes starting at the handle's current
// position, returning the number of bytes actually read. Fewer bytes than
// requested (including zero) means EOF of committed data, never an error
// (spec §4.5, §8 scenario 2).
func (rh *ReadHandle) Read(dst []byte) (int, error) {
	if rh.closed {
		return 0, ErrClosed
	}
	rh.fs.mu.Lock()
	defer rh.fs.mu.Unlock()

	total := 0
	for total < len(dst) {
		if rh.sectorRemaining == 0 {
			ok, err := rh.advance()
			if err != nil {
				return total, err
			}
			if !ok {
				break
			}
			continue
		}
		want := len(dst) - total
		if uint32(want) > rh.sectorRemaining {
			want = int(rh.sectorRemaining)
		}
		buf := make([]byte, want)
		if err := rh.fs.pc.readSector(rh.block, rh.sector, buf, rh.offset); err != nil {
			return total, err
		}
		copy(dst[total:], buf)
		total += want
		rh.offset += uint32(want)
		rh.sectorRemaining -= uint32(want)
	}
	return total, nil
}

// Close releases the handle. Reading never mutates media, so Close has no
// failure mode of its own.
func (rh *ReadHandle) Close() error {
	if rh.closed {
		return nil
	}
	rh.fs.mu.Lock()
	defer rh.fs.mu.Unlock()
	rh.closed = true
	delete(rh.fs.openReaders, rh)
	return nil
}

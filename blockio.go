package flogfs

import "fmt"

// blockio.go ties the packed record layouts of layout.go (C2) to the
// page-cache shim of pagecache.go (C3): every other component reads and
// writes on-media records exclusively through the methods below.

const (
	inodeAllocEntrySize = 4 + 2 + 4 + 4 + MaxFilenameLen
	inodeInvalEntrySize = 4 + 2
	blockStatSize       = 4 + 2 + 4 + 4 + 8
)

// classifyBlock decodes the type tag in a block's sector-0 spare (spec §4.1
// "Classifying a block"). An ambiguous decode (tied Hamming distance) is
// reported as ErrCorrupt; callers quarantine the block for the session.
func (fs *Filesystem) classifyBlock(block uint32) (blockType, error) {
	spare := make([]byte, 4)
	if err := fs.pc.readSpare(block, 0, spare); err != nil {
		return 0, fmt.Errorf("flogfs: read spare of block %d: %w", block, err)
	}
	t, ok := classifyTypeByte(spare[0])
	if !ok {
		return 0, fmt.Errorf("%w: block %d has an undecodable type tag", ErrCorrupt, block)
	}
	return t, nil
}

// --- file block records ---

func (fs *Filesystem) readFileInit(block uint32) (fileInitHeader, fileSectorSpare, error) {
	var hdr fileInitHeader
	raw := make([]byte, fileInitHeaderSize)
	if err := fs.pc.readSector(block, 0, raw, 0); err != nil {
		return hdr, fileSectorSpare{}, err
	}
	if err := unpack(raw, &hdr); err != nil {
		return hdr, fileSectorSpare{}, err
	}
	var sp fileSectorSpare
	spRaw := make([]byte, fileSectorSpareSize)
	if err := fs.pc.readSpare(block, 0, spRaw); err != nil {
		return hdr, sp, err
	}
	if err := unpack(spRaw, &sp); err != nil {
		return hdr, sp, err
	}
	return hdr, sp, nil
}

func (fs *Filesystem) writeFileInit(block uint32, hdr fileInitHeader) error {
	if err := fs.pc.writeSector(block, 0, pack(&hdr), 0); err != nil {
		return err
	}
	return nil
}

// readFileTail reports whether a file block's tail sector has been written
// yet (mirroring readInodeTail's erased-state check): an unwritten tail
// sector means this block is still the live end of its file's chain.
func (fs *Filesystem) readFileTail(block uint32) (fileTailHeader, bool, error) {
	var hdr fileTailHeader
	tail := fs.geo.TailSector()
	raw := make([]byte, fileTailHeaderSize)
	if err := fs.pc.readSector(block, tail, raw, 0); err != nil {
		return hdr, false, err
	}
	if isErasedBytes(raw) {
		return hdr, false, nil
	}
	if err := unpack(raw, &hdr); err != nil {
		return hdr, false, err
	}
	return hdr, true, nil
}

func (fs *Filesystem) writeFileTail(block uint32, hdr fileTailHeader) error {
	return fs.pc.writeSector(block, fs.geo.TailSector(), pack(&hdr), 0)
}

func (fs *Filesystem) readFileSpare(block, sector uint32) (fileSectorSpare, error) {
	var sp fileSectorSpare
	raw := make([]byte, fileSectorSpareSize)
	if err := fs.pc.readSpare(block, sector, raw); err != nil {
		return sp, err
	}
	err := unpack(raw, &sp)
	return sp, err
}

func (fs *Filesystem) writeFileSpare(block, sector uint32, sp fileSectorSpare) error {
	return fs.pc.writeSpare(block, sector, pack(&sp))
}

// --- inode block records ---

func (fs *Filesystem) readInodeInit(block uint32) (inodeInitHeader, inodeInitSpare, error) {
	var hdr inodeInitHeader
	raw := make([]byte, inodeInitHeaderSize)
	if err := fs.pc.readSector(block, 0, raw, 0); err != nil {
		return hdr, inodeInitSpare{}, err
	}
	if err := unpack(raw, &hdr); err != nil {
		return hdr, inodeInitSpare{}, err
	}
	var sp inodeInitSpare
	spRaw := make([]byte, 4)
	if err := fs.pc.readSpare(block, 0, spRaw); err != nil {
		return hdr, sp, err
	}
	if err := unpack(spRaw, &sp); err != nil {
		return hdr, sp, err
	}
	return hdr, sp, nil
}

func (fs *Filesystem) writeInodeInit(block uint32, hdr inodeInitHeader, sp inodeInitSpare) error {
	if err := fs.pc.writeSector(block, 0, pack(&hdr), 0); err != nil {
		return err
	}
	return fs.pc.writeSpare(block, 0, pack(&sp))
}

func (fs *Filesystem) readInodeTail(block uint32) (inodeTailHeader, bool, error) {
	var hdr inodeTailHeader
	tail := fs.geo.TailSector()
	raw := make([]byte, inodeTailHeaderSize)
	if err := fs.pc.readSector(block, tail, raw, 0); err != nil {
		return hdr, false, err
	}
	if isErasedBytes(raw) {
		return hdr, false, nil
	}
	if err := unpack(raw, &hdr); err != nil {
		return hdr, false, err
	}
	return hdr, true, nil
}

func (fs *Filesystem) writeInodeTail(block uint32, hdr inodeTailHeader) error {
	return fs.pc.writeSector(block, fs.geo.TailSector(), pack(&hdr), 0)
}

func (fs *Filesystem) readAllocEntry(block, sector uint32) (inodeAllocEntry, error) {
	var e inodeAllocEntry
	raw := make([]byte, inodeAllocEntrySize)
	if err := fs.pc.readSector(block, sector, raw, 0); err != nil {
		return e, err
	}
	err := unpack(raw, &e)
	return e, err
}

func (fs *Filesystem) writeAllocEntry(block, sector uint32, e inodeAllocEntry) error {
	return fs.pc.writeSector(block, sector, pack(&e), 0)
}

func (fs *Filesystem) readInvalEntry(block, sector uint32) (inodeInvalEntry, error) {
	var e inodeInvalEntry
	raw := make([]byte, inodeInvalEntrySize)
	if err := fs.pc.readSector(block, sector, raw, 0); err != nil {
		return e, err
	}
	err := unpack(raw, &e)
	return e, err
}

func (fs *Filesystem) writeInvalEntry(block, sector uint32, e inodeInvalEntry) error {
	return fs.pc.writeSector(block, sector, pack(&e), 0)
}

// --- block stat record (written into every block's invalidation sector) ---

func (fs *Filesystem) readBlockStat(block uint32) (blockStat, bool, error) {
	var st blockStat
	raw := make([]byte, blockStatSize)
	if err := fs.pc.readSector(block, fs.geo.InvalidationSector(), raw, 0); err != nil {
		return st, false, err
	}
	if isErasedBytes(raw) {
		return st, false, nil
	}
	if err := unpack(raw, &st); err != nil {
		return st, false, err
	}
	if st.Key != statMagicKey {
		return st, false, nil
	}
	return st, true, nil
}

func (fs *Filesystem) writeBlockStat(block uint32, st blockStat) error {
	st.Key = statMagicKey
	return fs.pc.writeSector(block, fs.geo.InvalidationSector(), pack(&st), 0)
}

// invalidationSectorWritten reports whether a block's invalidation sector
// carries anything at all (a full blockStat record, or the lighter-weight
// fileInvalidationSector marker spec §4.1 describes mid-deletion). Both
// layouts begin differently, but "still erased-state" is the one signal
// mount recovery (§4.10) actually needs to distinguish an interrupted
// deletion from a completed one (see DESIGN.md open-question note).
func (fs *Filesystem) invalidationSectorWritten(block uint32) (bool, error) {
	raw := make([]byte, 4)
	if err := fs.pc.readSector(block, fs.geo.InvalidationSector(), raw, 0); err != nil {
		return false, err
	}
	return !isErasedBytes(raw), nil
}

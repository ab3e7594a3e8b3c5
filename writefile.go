package flogfs

// writefile.go implements the sequential file write path of spec §4.6
// (component C7): a sector buffer flushed at sector boundaries, and a
// tail-sector handoff that allocates and links the chain's next block.
// (writeFileData accumulating dataBlocks), adapted from "one compressed
// blob written once at Finalize" to "one sector committed at a time, as
// bytes arrive, forever".

// WriteHandle is an open-for-append file (spec §6 "open_write"/"write").
type WriteHandle struct {
	fs     *Filesystem
	name   string
	fileID uint32

	block        uint32
	blockAge     uint32 // the Age value to stamp into this block's own init header
	sector       uint32
	bytesInBlock uint32

	baseThreshold int32
	buf           []byte // sector_buffer: bytes not yet committed for the current sector
	initWritten   bool   // whether this block's sector-0 init header has been stamped

	closed bool
}

func (fs *Filesystem) sectorCapacity(sector uint32) uint32 {
	return fs.geo.SectorSize - fs.sectorDataOffset(sector)
}

func (fs *Filesystem) openWrite(name string) (*WriteHandle, error) {
	if _, err := truncateName(name, fs.geo.MaxFilenameLen); err != nil {
		return nil, err
	}

	it, entry, found, err := fs.findFile(name)
	if err != nil {
		return nil, err
	}

	if found {
		return fs.resumeWrite(name, entry)
	}
	return fs.createWrite(it, name)
}

// createWrite implements spec §4.6 "If the file does not exist": grow the
// inode chain if needed, allocate the first block, write the inode
// allocation entry, and erase the new block. The block's own init sector is
// deliberately left unstamped here — it is written together with the first
// real data at sector 0 (spec §4.6 "if this is sector 0, stamp the init
// header first"); a crash before that ever happens is exactly what
// mount's allocation-recovery (§4.10) repairs from the inode entry alone.
func (fs *Filesystem) createWrite(it *inodeIter, name string) (*WriteHandle, error) {
	filenameBytes, err := truncateName(name, fs.geo.MaxFilenameLen)
	if err != nil {
		return nil, err
	}

	if err := it.prepareNew(fs); err != nil {
		return nil, err
	}

	block, age, err := fs.allocateBlock(fs.baseThreshold)
	if err != nil {
		return nil, err
	}
	blockAge := age + 1
	fileID := fs.maxFileID + 1
	ts := fs.nextTimestamp()

	var fn [MaxFilenameLen]byte
	copy(fn[:], filenameBytes)

	if err := fs.writeAllocEntry(it.block, it.sector, inodeAllocEntry{
		FileID:        fileID,
		FirstBlock:    uint16(block),
		FirstBlockAge: blockAge,
		Timestamp:     ts,
		Filename:      fn,
	}); err != nil {
		return nil, err
	}
	if err := fs.pc.commit(); err != nil {
		return nil, err
	}

	// The new block is reserved but still carries whatever its previous
	// tenant left behind; erase it now so the deferred first write below
	// (or mount's allocation-recovery, spec §4.10, if a crash lands here)
	// always finds clean erased-state sectors to program. Its own init
	// header is stamped together with the first real data at sector 0
	// (spec §4.6 "If this is sector 0, stamp the init header first"), not
	// eagerly here — that would mean programming sector 0's spare twice.
	if err := fs.eraseDirty(); err != nil {
		return nil, err
	}

	fs.maxFileID = fileID

	return &WriteHandle{
		fs:            fs,
		name:          name,
		fileID:        fileID,
		block:         block,
		blockAge:      blockAge,
		sector:        0,
		baseThreshold: fs.baseThreshold,
		initWritten:   false,
	}, nil
}

// resumeWrite implements spec §4.6 "Open-write... If the file exists, seek
// to its logical end": walk completed blocks, then scan the last block's
// sectors for the first erased one.
func (fs *Filesystem) resumeWrite(name string, entry inodeAllocEntry) (*WriteHandle, error) {
	block, age := entry.FirstBlock, entry.FirstBlockAge
	for {
		tail, hasTail, err := fs.readFileTail(uint32(block))
		if err != nil {
			return nil, err
		}
		if !hasTail {
			break
		}
		block = tail.NextBlock
		age = tail.NextAge
	}

	sector := uint32(0)
	for {
		sp, err := fs.readFileSpare(uint32(block), sector)
		if err != nil {
			return nil, err
		}
		if isErasedSpare(sp) {
			break
		}
		sector++
		if sector > fs.geo.TailSector() {
			break
		}
	}

	return &WriteHandle{
		fs:            fs,
		name:          name,
		fileID:        entry.FileID,
		block:         uint32(block),
		blockAge:      age,
		sector:        sector,
		baseThreshold: fs.baseThreshold,
		initWritten:   true,
	}, nil
}

func isErasedSpare(sp fileSectorSpare) bool {
	return sp.TypeID == uint8(typeUnallocated) && sp.Reserved == 0xFF && sp.NBytes == invalidU16
}

// Write appends up to len(src) bytes, buffering until a sector fills and
// then committing it durably. Unlike io.Writer, running out of free space
// is not an error: it is reported as a short write (spec §8 "further
// writes return 0 and the file remains readable up to the last committed
// sector").
func (wh *WriteHandle) Write(src []byte) (int, error) {
	if wh.closed {
		return 0, ErrClosed
	}
	wh.fs.mu.Lock()
	defer wh.fs.mu.Unlock()

	total := 0
	for len(src) > 0 {
		capacity := int(wh.fs.sectorCapacity(wh.sector)) - len(wh.buf)
		if capacity <= 0 {
			// should not happen: commitFileSector always resets buf on fill
			capacity = 0
		}
		if len(src) < capacity {
			wh.buf = append(wh.buf, src...)
			total += len(src)
			break
		}
		take := src[:capacity]
		if err := wh.commitFileSector(take); err != nil {
			if err == ErrNoSpace {
				return total, nil
			}
			return total, err
		}
		total += capacity
		src = src[capacity:]
	}
	return total, nil
}

// commitFileSector writes whatever is already buffered plus newData to the
// current sector and commits it (spec §4.6 "commit_file_sector").
func (wh *WriteHandle) commitFileSector(newData []byte) error {
	fs := wh.fs
	payload := make([]byte, 0, len(wh.buf)+len(newData))
	payload = append(payload, wh.buf...)
	payload = append(payload, newData...)

	if wh.sector != fs.geo.TailSector() {
		return wh.commitNonTail(payload)
	}
	return wh.commitTail(payload)
}

func (wh *WriteHandle) commitNonTail(payload []byte) error {
	fs := wh.fs
	if wh.sector == 0 && !wh.initWritten {
		if err := fs.writeFileInit(wh.block, fileInitHeader{Age: wh.blockAge, FileID: wh.fileID}); err != nil {
			return err
		}
		wh.initWritten = true
		// The block's own header is now written into the open page and is
		// committed together with this sector's data below, so the one-slot
		// dirty-block reservation commitTail left pending for it is done
		// (spec §4.4): release it before anything else can reuse the slot.
		fs.clearDirty(wh.block)
	}
	dataOffset := fs.sectorDataOffset(wh.sector)
	if err := fs.pc.writeSector(wh.block, wh.sector, payload, dataOffset); err != nil {
		return err
	}
	if err := fs.writeFileSpare(wh.block, wh.sector, fileSectorSpare{TypeID: uint8(typeFile), NBytes: uint16(len(payload))}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}

	wh.bytesInBlock += uint32(len(payload))
	if uint32(len(payload)) == fs.sectorCapacity(wh.sector) {
		wh.buf = nil
		wh.sector++
	} else {
		// Not advancing: this sector keeps its partial content durably as
		// written. Reopening the file resumes in the next (erased) sector
		// (resumeWrite) rather than amending this one.
		wh.buf = payload
	}
	return nil
}

func (wh *WriteHandle) commitTail(payload []byte) error {
	fs := wh.fs
	blk, age, err := fs.allocateBlock(wh.baseThreshold)
	if err != nil {
		return err
	}
	newBlockAge := age + 1
	ts := fs.nextTimestamp()
	bytesInBlock := wh.bytesInBlock + uint32(len(payload))

	if err := fs.writeFileTail(wh.block, fileTailHeader{
		NextBlock:    uint16(blk),
		NextAge:      newBlockAge,
		Timestamp:    ts,
		BytesInBlock: uint16(bytesInBlock),
	}); err != nil {
		return err
	}
	if err := fs.pc.writeSector(wh.block, fs.geo.TailSector(), payload, fileTailHeaderSize); err != nil {
		return err
	}
	if err := fs.writeFileSpare(wh.block, fs.geo.TailSector(), fileSectorSpare{TypeID: uint8(typeFile), NBytes: uint16(len(payload))}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}

	if err := fs.eraseDirty(); err != nil {
		return err
	}

	wh.block = blk
	wh.blockAge = newBlockAge
	wh.bytesInBlock = 0
	wh.sector = 0
	wh.buf = nil
	wh.initWritten = false
	return nil
}

// Close flushes any buffered partial sector (spec §4.6 "Close-write":
// flush_write(file) := commit_file_sector(file, NULL, 0)) and releases the
// handle. On failure the file remains in a consistent, readable state: the
// partial data that failed to flush is simply not yet durable.
func (wh *WriteHandle) Close() error {
	if wh.closed {
		return nil
	}
	wh.fs.mu.Lock()
	defer wh.fs.mu.Unlock()

	var err error
	if len(wh.buf) > 0 {
		err = wh.commitFileSector(nil)
	}
	if err == nil && !wh.initWritten {
		err = wh.stampPendingInit()
	}
	wh.closed = true
	delete(wh.fs.openWriters, wh)
	return err
}

// stampPendingInit finishes a block commitTail already made the chain's
// new end but left uninitialized because nothing was ever written into it.
// Without this, the block would sit linked-but-unstamped until the next
// mount's allocation-recovery (mount.go) repairs it — fine across a
// restart, but resumeWrite assumes the chain's current end already carries
// its own init header, so a same-session reopen of this file needs the
// repair to happen synchronously here instead.
func (wh *WriteHandle) stampPendingInit() error {
	fs := wh.fs
	if err := fs.writeFileInit(wh.block, fileInitHeader{Age: wh.blockAge, FileID: wh.fileID}); err != nil {
		return err
	}
	if err := fs.writeFileSpare(wh.block, 0, fileSectorSpare{TypeID: uint8(typeFile), NBytes: 0}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}
	wh.initWritten = true
	fs.clearDirty(wh.block)
	return nil
}

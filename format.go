package flogfs

// format.go implements spec §4.9 (component C9): a single pass erasing
// every good block and laying down a fresh, empty inode0. Uses the same
// single-pass-over-every-block shape mount.go uses.

// format is spec's Format, run with fs.mu already held.
func (fs *Filesystem) format() error {
	fs.freeBitmap = make([]byte, fs.bitmapBytes())
	fs.numFreeBlocks = 0
	fs.freeBlockSum = 0
	fs.meanFreeAge = 0
	fs.allocateHead = 0
	fs.prealloc = newPreallocHeap(fs.geo.PreallocSize)
	fs.dirty = dirtySlot{}
	fs.quarantined = make(map[uint32]bool)
	fs.t = 0
	fs.tAllocationCeiling = 0
	fs.maxFileID = 0
	fs.state = stateUnmounted

	var (
		haveFirstGood bool
		firstGood     uint32
		firstGoodAge  uint32
	)

	for b := uint32(0); b < fs.geo.NBlocks; b++ {
		if err := fs.pc.openSector(b, 0); err != nil {
			fs.quarantine(b, err)
			continue
		}
		if fs.drv.BlockIsBad() {
			fs.quarantine(b, ErrBadBlock)
			continue
		}

		st, ok, err := fs.readBlockStat(b)
		if err != nil {
			return err
		}
		age := uint32(0)
		if ok {
			age = st.Age
		}

		if err := fs.pc.erase(b); err != nil {
			fs.quarantine(b, err)
			continue
		}
		if err := fs.writeBlockStat(b, blockStat{
			Age:       age,
			NextBlock: invalidU16,
			NextAge:   invalidU32,
			Timestamp: 0,
		}); err != nil {
			return err
		}
		if err := fs.pc.commit(); err != nil {
			return err
		}

		fs.setFree(b, true)
		fs.numFreeBlocks++
		fs.freeBlockSum += uint64(age)

		if !haveFirstGood {
			haveFirstGood = true
			firstGood = b
			firstGoodAge = age
		}
	}
	fs.recomputeMeanFreeAge()

	if !haveFirstGood {
		return ErrNoSpace
	}

	fs.allocMu.Lock()
	fs.claimFreeBlock(firstGood, firstGoodAge)
	fs.allocMu.Unlock()
	if err := fs.writeInodeInit(firstGood, inodeInitHeader{
		Age:           firstGoodAge + 1,
		Timestamp:     0,
		PreviousBlock: invalidU16,
	}, inodeInitSpare{TypeID: uint8(typeInode), InodeIndex: 0}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}

	fs.inode0 = firstGood
	return nil
}

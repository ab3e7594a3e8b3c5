package flogfs

import "fmt"

// inode.go implements the inode chain and its iterator (spec §4.3,
// tableReader (inodereader.go/tablereader.go): a sequential, cursor-style
// walk over fixed-size table entries that transparently crosses block
// boundaries via a forward link.

// inodeIter is spec §4.3's inode iterator: {block, next_block,
// previous_block, inode_idx, inode_block_idx, sector}.
type inodeIter struct {
	block         uint32
	nextBlock     uint32 // INVALID if this block is the chain's tail
	previousBlock uint32 // INVALID for inode0
	inodeIdx      uint32 // running count of entries visited
	inodeBlockIdx uint32 // absolute index of the current block in the chain
	sector        uint32 // current entry's allocation sector
}

// maxEntrySector is the last sector index an inode entry's allocation
// sector may legally occupy (its companion invalidation sector follows
// immediately, so the pair must fit before the tail sector).
func (fs *Filesystem) maxEntrySector() uint32 {
	return fs.geo.TailSector() - 2
}

// newInodeIterFromInode0 positions an iterator at inode0's first entry
// (spec §4.3 "Init from inode0").
func (fs *Filesystem) newInodeIterFromInode0() (*inodeIter, error) {
	block := fs.inode0
	_, sp, err := fs.readInodeInit(block)
	if err != nil {
		return nil, fmt.Errorf("flogfs: reading inode0 init sector: %w", err)
	}
	if sp.InodeIndex != 0 {
		return nil, fmt.Errorf("%w: inode0 spare reports inode_block_idx=%d, want 0", ErrCorrupt, sp.InodeIndex)
	}
	tail, ok, err := fs.readInodeTail(block)
	if err != nil {
		return nil, fmt.Errorf("flogfs: reading inode0 tail sector: %w", err)
	}
	next := uint32(invalidU16)
	if ok {
		next = uint32(tail.NextBlock)
	}
	return &inodeIter{
		block:         block,
		nextBlock:     next,
		previousBlock: uint32(invalidU16),
		inodeIdx:      0,
		inodeBlockIdx: 0,
		sector:        fs.geo.FirstEntrySector(),
	}, nil
}

// next advances the iterator to the following entry, crossing into the
// chain's next block when the current block is exhausted, and reports
// false (with no error) once it reaches the one-past-end sentinel of a
// chain whose last block has no successor (spec §4.3 "next()").
func (it *inodeIter) next(fs *Filesystem) (bool, error) {
	it.sector += 2
	it.inodeIdx++
	if it.sector <= fs.maxEntrySector() {
		return true, nil
	}
	if it.nextBlock == uint32(invalidU16) {
		return false, nil
	}
	return true, fs.stepInodeIterInto(it, it.nextBlock)
}

func (fs *Filesystem) stepInodeIterInto(it *inodeIter, block uint32) error {
	_, sp, err := fs.readInodeInit(block)
	if err != nil {
		return fmt.Errorf("flogfs: reading inode block %d init sector: %w", block, err)
	}
	tail, ok, err := fs.readInodeTail(block)
	if err != nil {
		return fmt.Errorf("flogfs: reading inode block %d tail sector: %w", block, err)
	}
	next := uint32(invalidU16)
	if ok {
		next = uint32(tail.NextBlock)
	}
	it.previousBlock = it.block
	it.block = block
	it.inodeBlockIdx = sp.InodeIndex
	it.nextBlock = next
	it.sector = fs.geo.FirstEntrySector()
	return nil
}

// prev mirrors next, using the init sector's back-link (spec §4.3 "prev()").
func (it *inodeIter) prev(fs *Filesystem) (bool, error) {
	if it.sector > fs.geo.FirstEntrySector() {
		it.sector -= 2
		it.inodeIdx--
		return true, nil
	}
	if it.previousBlock == uint32(invalidU16) {
		return false, nil
	}
	prevBlock := it.previousBlock
	prevHdr, prevSp, err := fs.readInodeInit(prevBlock)
	if err != nil {
		return false, err
	}
	it.nextBlock = it.block
	it.block = prevBlock
	it.inodeBlockIdx = prevSp.InodeIndex
	it.previousBlock = uint32(prevHdr.PreviousBlock)
	it.sector = fs.maxEntrySector()
	it.inodeIdx--
	return true, nil
}

// prepareNew is spec §4.3's prepare_new(): if the iterator has walked past
// the last usable entry of its block (and has no successor), a new inode
// block is allocated, linked, and typed, and the iterator repositions to
// its first entry — ready for the caller to write.
func (it *inodeIter) prepareNew(fs *Filesystem) error {
	if it.sector <= fs.maxEntrySector() {
		return nil
	}

	blk, age, err := fs.allocateBlock(fs.baseThreshold)
	if err != nil {
		return err
	}
	ts := fs.nextTimestamp()

	if err := fs.writeInodeTail(it.block, inodeTailHeader{
		NextBlock: uint16(blk),
		NextAge:   age + 1,
		Timestamp: ts,
	}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}

	if err := fs.eraseDirty(); err != nil {
		return err
	}

	newIdx := it.inodeBlockIdx + 1
	if err := fs.writeInodeInit(blk, inodeInitHeader{
		Age:           age + 1,
		Timestamp:     ts,
		PreviousBlock: uint16(it.block),
	}, inodeInitSpare{TypeID: uint8(typeInode), InodeIndex: uint16(newIdx)}); err != nil {
		return err
	}
	if err := fs.pc.commit(); err != nil {
		return err
	}
	fs.clearDirty(blk)

	it.previousBlock = it.block
	it.block = blk
	it.inodeBlockIdx = newIdx
	it.nextBlock = uint32(invalidU16)
	it.sector = fs.geo.FirstEntrySector()
	return nil
}

// findFile walks the inode chain looking for the live entry named name
// (spec §4.3 "Find"). On a miss, the returned iterator is left positioned
// at the first free entry, ready for prepareNew+write (spec: "the iterator
// is left positioned at the first free entry so callers may pass it
// straight to prepare_new()").
func (fs *Filesystem) findFile(name string) (*inodeIter, inodeAllocEntry, bool, error) {
	it, err := fs.newInodeIterFromInode0()
	if err != nil {
		return nil, inodeAllocEntry{}, false, err
	}

	for {
		entry, err := fs.readAllocEntry(it.block, it.sector)
		if err != nil {
			return nil, inodeAllocEntry{}, false, err
		}
		if entry.FileID == invalidU32 {
			return it, inodeAllocEntry{}, false, nil
		}
		if nameFromBytes(entry.Filename[:]) == name {
			inval, err := fs.readInvalEntry(it.block, it.sector+1)
			if err != nil {
				return nil, inodeAllocEntry{}, false, err
			}
			if inval.Timestamp == invalidU32 {
				return it, entry, true, nil
			}
		}
		advanced, err := it.next(fs)
		if err != nil {
			return nil, inodeAllocEntry{}, false, err
		}
		if !advanced {
			return it, inodeAllocEntry{}, false, nil
		}
	}
}

package flogfs

// delete.go implements deletion and chain invalidation (spec §4.7/§4.8,
// component C8): find the inode, mark it deleted, then walk its block
// chain reclaiming each block to the free pool through the same release
// path alloc.go uses, and the same inode walk shape inode.go/findFile uses.

// remove implements spec §4.7 "remove(filename)".
func (fs *Filesystem) remove(name string) error {
	it, entry, found, err := fs.findFile(name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	lastBlock, err := fs.lastBlockOf(uint32(entry.FirstBlock))
	if err != nil {
		return err
	}

	fs.deleteMu.Lock()
	ts := fs.nextTimestamp()
	err = fs.writeInvalEntry(it.block, it.sector+1, inodeInvalEntry{
		Timestamp: ts,
		LastBlock: uint16(lastBlock),
	})
	if err == nil {
		err = fs.pc.commit()
	}
	fs.deleteMu.Unlock()
	if err != nil {
		return err
	}

	return fs.invalidateChain(uint32(entry.FirstBlock), entry.FileID)
}

// lastBlockOf follows a file's tail-sector chain to its final block.
func (fs *Filesystem) lastBlockOf(block uint32) (uint32, error) {
	for {
		tail, hasTail, err := fs.readFileTail(block)
		if err != nil {
			return 0, err
		}
		if !hasTail {
			return block, nil
		}
		block = uint32(tail.NextBlock)
	}
}

// invalidateChain is spec §4.7's invalidate_chain(first_block, file_id),
// also reused verbatim by mount's deletion-recovery (§4.10) to finish a
// deletion interrupted mid-walk. The whole walk runs under the deletion
// lock, including the free-pool bookkeeping per freed block: spec §5
// forbids ever holding the allocate-lock and delete-lock at once, so this
// updates free_block_bitmap/num_free_blocks/free_block_sum directly
// (markFreeLocked) rather than through the allocator's own lock.
func (fs *Filesystem) invalidateChain(firstBlock, fileID uint32) error {
	fs.deleteMu.Lock()
	defer fs.deleteMu.Unlock()

	fs.tAllocationCeiling = fs.t
	defer func() { fs.tAllocationCeiling = 0 }()

	block := firstBlock
	for {
		typ, err := fs.classifyBlock(block)
		if err != nil {
			// Undecodable type tag: treat like a mismatch and stop, same as
			// the reference's "type tag differs" case.
			return nil
		}

		if typ == typeUnallocated {
			st, ok, err := fs.readBlockStat(block)
			if err != nil {
				return err
			}
			if !ok || st.NextBlock == invalidU16 {
				return nil
			}
			block = uint32(st.NextBlock)
			continue
		}

		if typ != typeFile {
			return nil
		}
		hdr, _, err := fs.readFileInit(block)
		if err != nil {
			return err
		}
		if hdr.FileID != fileID {
			// Another allocation already consumed this block; the chain is
			// truncated at a consistent point.
			return nil
		}

		tail, hasTail, err := fs.readFileTail(block)
		if err != nil {
			return err
		}
		nextBlock, nextAge := uint32(invalidU16), invalidU32
		if hasTail {
			nextBlock = uint32(tail.NextBlock)
			nextAge = tail.NextAge
		}

		age := hdr.Age
		fs.pc.closePage()
		if err := fs.pc.erase(block); err != nil {
			fs.quarantine(block, err)
			return err
		}

		dts := fs.nextTimestamp()
		if err := fs.writeBlockStat(block, blockStat{
			Age:       age,
			NextBlock: uint16(nextBlock),
			NextAge:   nextAge,
			Timestamp: dts,
		}); err != nil {
			return err
		}
		if err := fs.pc.commit(); err != nil {
			return err
		}

		fs.markFreeLocked(block, age)

		if !hasTail {
			return nil
		}
		block = nextBlock
	}
}

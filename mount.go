package flogfs

// mount.go implements spec §4.10 (component C10): a single pass over every
// block that rebuilds all in-RAM allocator/inode state, followed by two
// narrow recovery passes for the one allocation and one deletion that could
// have been mid-flight at the moment of a crash. Uses the same
// single-pass-over-every-block shape format.go uses.

// lastAllocationInfo is the winner of spec §4.10's "highest-timestamp
// universal tail across all blocks", unified across its two possible
// origins (a tail-sector write on an existing block, or a live inode
// entry's own allocation timestamp) since both name a successor block that
// should already carry a matching init sector.
type lastAllocationInfo struct {
	timestamp uint32
	kind      blockType // typeFile or typeInode
	successor uint32
	age       uint32 // the init-sector age the successor should already carry

	// typeFile: the file_id the successor's init sector should carry.
	fileID uint32

	// typeInode: the predecessor inode block and its own inode_index, used
	// to stamp the successor's previous-link and inode_index.
	predecessor  uint32
	predInodeIdx uint32
}

type lastDeletionInfo struct {
	timestamp  uint32
	lastBlock  uint32
	fileID     uint32
	firstBlock uint32
}

type inode0Candidate struct {
	block     uint32
	timestamp uint32
}

// mount is spec's Mount, run with fs.mu already held.
func (fs *Filesystem) mount() error {
	fs.freeBitmap = make([]byte, fs.bitmapBytes())
	fs.numFreeBlocks = 0
	fs.freeBlockSum = 0
	fs.meanFreeAge = 0
	fs.allocateHead = 0
	fs.prealloc = newPreallocHeap(fs.geo.PreallocSize)
	fs.dirty = dirtySlot{}
	fs.quarantined = make(map[uint32]bool)

	var (
		candidates  []inode0Candidate
		winner      lastAllocationInfo
		maxBlockAge uint32
		maxT        uint32
	)
	bumpT := func(t uint32) {
		if t != invalidU32 && t > maxT {
			maxT = t
		}
	}

	for b := uint32(0); b < fs.geo.NBlocks; b++ {
		if err := fs.pc.openSector(b, 0); err != nil {
			fs.quarantine(b, err)
			continue
		}
		if fs.drv.BlockIsBad() {
			fs.quarantine(b, ErrBadBlock)
			continue
		}

		typ, err := fs.classifyBlock(b)
		if err != nil {
			fs.quarantine(b, err)
			continue
		}

		switch typ {
		case typeUnallocated:
			st, ok, err := fs.readBlockStat(b)
			if err != nil {
				return err
			}
			age := uint32(0)
			if ok {
				age = st.Age
				bumpT(st.Timestamp)
			}
			if age > maxBlockAge {
				maxBlockAge = age
			}
			fs.setFree(b, true)
			fs.numFreeBlocks++
			fs.freeBlockSum += uint64(age)

		case typeInode:
			fs.setFree(b, false)
			hdr, sp, err := fs.readInodeInit(b)
			if err != nil {
				return err
			}
			if hdr.Age > maxBlockAge {
				maxBlockAge = hdr.Age
			}
			bumpT(hdr.Timestamp)
			if sp.InodeIndex == 0 {
				candidates = append(candidates, inode0Candidate{block: b, timestamp: hdr.Timestamp})
			}
			tail, hasTail, err := fs.readInodeTail(b)
			if err != nil {
				return err
			}
			if hasTail {
				bumpT(tail.Timestamp)
				if tail.Timestamp > winner.timestamp {
					winner = lastAllocationInfo{
						timestamp:    tail.Timestamp,
						kind:         typeInode,
						successor:    uint32(tail.NextBlock),
						age:          tail.NextAge,
						predecessor:  b,
						predInodeIdx: uint32(sp.InodeIndex),
					}
				}
			}

		case typeFile:
			fs.setFree(b, false)
			hdr, _, err := fs.readFileInit(b)
			if err != nil {
				return err
			}
			if hdr.Age > maxBlockAge {
				maxBlockAge = hdr.Age
			}
			tail, hasTail, err := fs.readFileTail(b)
			if err != nil {
				return err
			}
			if hasTail {
				bumpT(tail.Timestamp)
				if tail.Timestamp > winner.timestamp {
					winner = lastAllocationInfo{
						timestamp: tail.Timestamp,
						kind:      typeFile,
						successor: uint32(tail.NextBlock),
						age:       tail.NextAge,
						fileID:    hdr.FileID,
					}
				}
			}
		}
	}
	fs.recomputeMeanFreeAge()
	fs.maxBlockAge = maxBlockAge

	if len(candidates) == 0 {
		return ErrNotFormatted
	}
	live := candidates[0]
	for _, c := range candidates[1:] {
		if c.timestamp < live.timestamp {
			live = c
		}
	}
	fs.inode0 = live.block

	maxFileID, lastDeletion, err := fs.inodeChainPass(bumpT, &winner)
	if err != nil {
		return err
	}
	fs.maxFileID = maxFileID
	fs.t = maxT

	if err := fs.allocationRecovery(winner); err != nil {
		return err
	}
	if lastDeletion.timestamp > 0 {
		if err := fs.deletionRecovery(lastDeletion); err != nil {
			return err
		}
	}

	return nil
}

// inodeChainPass is spec §4.10's "Inode-chain pass": it walks every entry
// from inode0, tracking the highest live allocation timestamp (folded into
// winner if it beats the block-pass's candidate) and the highest deletion
// timestamp.
func (fs *Filesystem) inodeChainPass(bumpT func(uint32), winner *lastAllocationInfo) (uint32, lastDeletionInfo, error) {
	var maxFileID uint32
	var lastDeletion lastDeletionInfo

	it, err := fs.newInodeIterFromInode0()
	if err != nil {
		return 0, lastDeletionInfo{}, err
	}
	for {
		entry, err := fs.readAllocEntry(it.block, it.sector)
		if err != nil {
			return 0, lastDeletionInfo{}, err
		}
		if entry.FileID == invalidU32 {
			break
		}
		if entry.FileID > maxFileID {
			maxFileID = entry.FileID
		}
		bumpT(entry.Timestamp)

		inval, err := fs.readInvalEntry(it.block, it.sector+1)
		if err != nil {
			return 0, lastDeletionInfo{}, err
		}
		if inval.Timestamp != invalidU32 {
			bumpT(inval.Timestamp)
			if inval.Timestamp > lastDeletion.timestamp {
				lastDeletion = lastDeletionInfo{
					timestamp:  inval.Timestamp,
					lastBlock:  uint32(inval.LastBlock),
					fileID:     entry.FileID,
					firstBlock: uint32(entry.FirstBlock),
				}
			}
		} else if entry.Timestamp > winner.timestamp {
			*winner = lastAllocationInfo{
				timestamp: entry.Timestamp,
				kind:      typeFile,
				successor: uint32(entry.FirstBlock),
				age:       entry.FirstBlockAge,
				fileID:    entry.FileID,
			}
		}

		advanced, err := it.next(fs)
		if err != nil {
			return 0, lastDeletionInfo{}, err
		}
		if !advanced {
			break
		}
	}
	return maxFileID, lastDeletion, nil
}

// allocationRecovery is spec §4.10's "Allocation-recovery": repair the one
// successor block that could have been left uninitialized by a crash
// between committing the predecessor's forward link and stamping the
// successor's own init sector.
func (fs *Filesystem) allocationRecovery(winner lastAllocationInfo) error {
	if winner.timestamp == 0 {
		return nil
	}

	switch winner.kind {
	case typeFile:
		hdr, _, err := fs.readFileInit(winner.successor)
		if err != nil {
			return err
		}
		if hdr.FileID == winner.fileID {
			return nil // already stamped; no crash here
		}
		if err := fs.writeFileInit(winner.successor, fileInitHeader{Age: winner.age, FileID: winner.fileID}); err != nil {
			return err
		}
		if err := fs.writeFileSpare(winner.successor, 0, fileSectorSpare{TypeID: uint8(typeFile), NBytes: 0}); err != nil {
			return err
		}
		if err := fs.pc.commit(); err != nil {
			return err
		}

	case typeInode:
		typ, err := fs.classifyBlock(winner.successor)
		if err == nil && typ == typeInode {
			return nil // already stamped; no crash here
		}
		if err := fs.writeInodeInit(winner.successor, inodeInitHeader{
			Age:           winner.age,
			Timestamp:     winner.timestamp,
			PreviousBlock: uint16(winner.predecessor),
		}, inodeInitSpare{TypeID: uint8(typeInode), InodeIndex: uint16(winner.predInodeIdx + 1)}); err != nil {
			return err
		}
		if err := fs.pc.commit(); err != nil {
			return err
		}

	default:
		return nil
	}

	// The block pass above counted the successor as free, with the age its
	// stat record carried: 0 if allocation had already erased it (which
	// wipes that record), the stored age if the crash came before the
	// erase. Remove it from the free pool using the same age it was added
	// with, so free_block_sum nets to zero for a block that was in fact
	// never free.
	st, ok, err := fs.readBlockStat(winner.successor)
	if err != nil {
		return err
	}
	freeAge := uint32(0)
	if ok {
		freeAge = st.Age
	}
	fs.allocMu.Lock()
	fs.claimFreeBlock(winner.successor, freeAge)
	fs.allocMu.Unlock()
	return nil
}

// deletionRecovery is spec §4.10's "Deletion-recovery": if the chain
// invalidation that should have run after the last recorded deletion never
// reached its final block, finish it now.
func (fs *Filesystem) deletionRecovery(d lastDeletionInfo) error {
	hdr, _, err := fs.readFileInit(d.lastBlock)
	if err != nil {
		return err
	}
	if hdr.FileID != d.fileID {
		return nil
	}
	written, err := fs.invalidationSectorWritten(d.lastBlock)
	if err != nil {
		return err
	}
	if written {
		return nil
	}
	return fs.invalidateChain(d.firstBlock, d.fileID)
}

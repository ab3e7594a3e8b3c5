// Package flogfs implements FLogFS, an append-only log-structured
// filesystem for raw SLC NAND flash (spec.md / SPEC_FULL.md). It provides a
// flat namespace of byte streams written sequentially and read sequentially
// or from the start: there is no directory concept, no in-place update, no
// seek-write and no truncate. A Seek-style random-access API is
// intentionally not provided (spec §9 marks it out of scope).
//
// The Filesystem type is the single handle threaded through every
// operation, replacing the reference implementation's process-wide global
// state (spec §9 "Global state"). There is no Unmount: Mount brings a handle
// into the mounted state, and only Format takes it out of it again.
package flogfs

import (
	"fmt"
	"sync"
)

type mountState uint8

const (
	stateUnmounted mountState = iota
	stateMounted
)

// Filesystem is the in-RAM state of one mounted FLogFS volume (spec §3
// "lifecycle", §5 "shared resources": "the single in-RAM flogfs state").
// All fields are private; every mutation happens under mu, which plays the
// role of the spec's fs-lock (§5).
type Filesystem struct {
	geo Geometry
	drv Driver
	pc  *pageCache
	log Logger

	baseThreshold int32

	// mu is the outermost lock in the ordering of spec §5 ("fs-lock, then
	// flash-lock, then allocate-lock or delete-lock"): every public method
	// acquires it for its entire duration.
	mu    sync.Mutex
	state mountState

	// allocMu/deleteMu are the narrower locks of spec §5, held only around
	// the specific state they protect. Because mu is already held for the
	// whole operation they never actually contend, but keeping them
	// separate documents which fields belong to which subsystem and keeps
	// alloc.go/delete.go correct if a future caller relaxes the outer lock.
	allocMu  sync.Mutex
	deleteMu sync.Mutex

	// timestamp sequence, spec invariant 2 ("strictly increasing")
	t uint32
	// tAllocationCeiling holds t for the duration of a chain invalidation
	// and is cleared when it finishes (spec §4.8). No allocation path reads
	// it: timestamps only come from nextTimestamp, which never repeats one.
	tAllocationCeiling uint32

	maxFileID   uint32
	maxBlockAge uint32

	inode0 uint32 // block number of the inode block whose inode_index is 0

	// allocator state (spec §4.4), defined fully in alloc.go
	freeBitmap    []byte
	numFreeBlocks uint32
	freeBlockSum  uint64
	meanFreeAge   uint32
	allocateHead  uint32
	prealloc      *preallocHeap
	dirty         dirtySlot

	// blocks whose type tag failed to decode this session (spec §4.1
	// "any other byte means corrupt ... treated as bad for the remainder
	// of the session"), plus blocks the driver itself reports bad.
	quarantined map[uint32]bool

	openReaders map[*ReadHandle]struct{}
	openWriters map[*WriteHandle]struct{}
}

// New constructs a Filesystem handle over drv with the given geometry. It
// does not touch the media; call Format (once, on fresh media) and then
// Mount before using any other method.
func New(drv Driver, geo Geometry, opts ...Option) (*Filesystem, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	fs := &Filesystem{
		geo:           geo,
		drv:           drv,
		pc:            newPageCache(drv, geo),
		baseThreshold: 0,
		quarantined:   make(map[uint32]bool),
		openReaders:   make(map[*ReadHandle]struct{}),
		openWriters:   make(map[*WriteHandle]struct{}),
	}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	if err := drv.Init(); err != nil {
		return nil, fmt.Errorf("flogfs: driver init: %w", err)
	}
	return fs, nil
}

func (fs *Filesystem) nextTimestamp() uint32 {
	fs.t++
	return fs.t
}

func (fs *Filesystem) isQuarantined(block uint32) bool {
	return fs.quarantined[block]
}

func (fs *Filesystem) quarantine(block uint32, reason error) {
	fs.logf().Warnf("flogfs: quarantining block %d for this session: %v", block, reason)
	fs.quarantined[block] = true
}

// Format erases every good block and lays down a fresh, empty inode0 (spec
// §4.9, component C9). It discards any existing filesystem on the media.
func (fs *Filesystem) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.format()
}

// Mount performs the single-pass recovery scan of spec §4.10 (component
// C10) and brings the handle into the MOUNTED state. Calling Mount twice on
// an already-mounted handle is a documented no-op success (spec §8
// "mount(); mount() is a no-op on the second call").
func (fs *Filesystem) Mount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.state == stateMounted {
		return nil
	}
	if err := fs.mount(); err != nil {
		return err
	}
	fs.state = stateMounted
	return nil
}

func (fs *Filesystem) requireMounted() error {
	if fs.state != stateMounted {
		return ErrNotMounted
	}
	return nil
}

// Exists reports whether a live inode entry named name exists.
func (fs *Filesystem) Exists(name string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireMounted(); err != nil {
		return false, err
	}
	_, _, found, err := fs.findFile(name)
	return found, err
}

// OpenRead opens name for sequential reading from byte 0 (spec §4.5,
// component C6). Returns ErrNotFound if no live inode entry matches.
func (fs *Filesystem) OpenRead(name string) (*ReadHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	rh, err := fs.openRead(name)
	if err != nil {
		return nil, err
	}
	fs.openReaders[rh] = struct{}{}
	return rh, nil
}

// OpenWrite opens name for sequential append. If name already has a live
// inode entry, writing resumes at its logical end-of-file (spec §4.6
// "Open-write"); FLogFS never overwrites or truncates existing data.
// Otherwise a new inode entry is allocated and file_id is assigned
// strictly greater than every file_id assigned so far (spec invariant 1).
func (fs *Filesystem) OpenWrite(name string) (*WriteHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	wh, err := fs.openWrite(name)
	if err != nil {
		return nil, err
	}
	fs.openWriters[wh] = struct{}{}
	return wh, nil
}

// Remove deletes name's inode entry and reclaims every block of its chain
// (spec §4.7, component C8). Removing a name that doesn't exist returns
// ErrNotFound but leaves the filesystem consistent (spec §7 "idempotent
// deletion" — repeated removes are each individually reported as failure,
// never as a partial mutation).
func (fs *Filesystem) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireMounted(); err != nil {
		return err
	}
	return fs.remove(name)
}

// Stat returns lightweight, non-owning statistics about free space, useful
// for `cmd/flogfs info` and for the wear-leveling property test of spec §8.
type Stat struct {
	NBlocks       uint32
	NumFreeBlocks uint32
	MeanFreeAge   uint32
	MaxFileID     uint32
	MaxBlockAge   uint32
}

func (fs *Filesystem) Stat() (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireMounted(); err != nil {
		return Stat{}, err
	}
	return Stat{
		NBlocks:       fs.geo.NBlocks,
		NumFreeBlocks: fs.numFreeBlocks,
		MeanFreeAge:   fs.meanFreeAge,
		MaxFileID:     fs.maxFileID,
		MaxBlockAge:   fs.maxBlockAge,
	}, nil
}

// ListIter walks the live inode entries in inode-position order (spec §6
// "ls_start/ls_iterate/ls_stop", §8 invariant 5). It holds fs.mu for its
// entire lifetime, exactly like every other public operation, so Stop must
// always be called (defer it immediately after ListStart succeeds).
type ListIter struct {
	fs   *Filesystem
	iter *inodeIter
	done bool
}

// ListStart begins an ls pass and locks the filesystem until Stop is called.
func (fs *Filesystem) ListStart() (*ListIter, error) {
	fs.mu.Lock()
	if err := fs.requireMounted(); err != nil {
		fs.mu.Unlock()
		return nil, err
	}
	it, err := fs.newInodeIterFromInode0()
	if err != nil {
		fs.mu.Unlock()
		return nil, err
	}
	return &ListIter{fs: fs, iter: it}, nil
}

// Next reports whether a name was produced into name and advances the
// iterator; it returns false once every live entry has been enumerated.
func (li *ListIter) Next() (name string, ok bool, err error) {
	if li.done {
		return "", false, nil
	}
	for {
		entry, err := li.fs.readAllocEntry(li.iter.block, li.iter.sector)
		if err != nil {
			return "", false, err
		}
		if entry.FileID == invalidU32 {
			li.done = true
			return "", false, nil
		}
		inval, err := li.fs.readInvalEntry(li.iter.block, li.iter.sector+1)
		if err != nil {
			return "", false, err
		}
		live := inval.Timestamp == invalidU32
		advanced, err := li.iter.next(li.fs)
		if err != nil {
			return "", false, err
		}
		if !advanced {
			li.done = true
		}
		if live {
			return nameFromBytes(entry.Filename[:]), true, nil
		}
		if li.done {
			return "", false, nil
		}
	}
}

// Stop releases the filesystem lock held since ListStart.
func (li *ListIter) Stop() {
	li.fs.mu.Unlock()
}

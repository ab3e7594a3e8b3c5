package flogfs

import "fmt"

// Geometry describes the physical shape of the NAND array a Filesystem is
// built on. It plays the role that compile-time constants play in the
// reference implementation; here it is a runtime value so a single binary
// can be exercised against simulated media of many shapes in tests.
type Geometry struct {
	SectorSize     uint32 // bytes per sector payload, spare excluded
	SectorsPerPage uint32 // sectors sharing one page-cache line
	PagesPerBlock  uint32 // pages per erase block
	NBlocks        uint32 // number of erase blocks in the array

	MaxFilenameLen uint32 // including the trailing NUL; spec default 32
	PreallocSize   int    // capacity of the preallocation heap; spec default 10
}

// DefaultGeometry mirrors the "typical config" called out in spec §2.
func DefaultGeometry() Geometry {
	return Geometry{
		SectorSize:     512,
		SectorsPerPage: 4,
		PagesPerBlock:  64,
		NBlocks:        1024,
		MaxFilenameLen: MaxFilenameLen,
		PreallocSize:   10,
	}
}

// SectorsPerBlock is SectorsPerPage*PagesPerBlock.
func (g Geometry) SectorsPerBlock() uint32 {
	return g.SectorsPerPage * g.PagesPerBlock
}

// TailSector is the absolute in-block index of the tail (forward-link) sector.
func (g Geometry) TailSector() uint32 {
	return g.SectorsPerBlock() - 2
}

// InvalidationSector is the absolute in-block index of the invalidation/stat
// sector (last sector of the block).
func (g Geometry) InvalidationSector() uint32 {
	return g.SectorsPerBlock() - 1
}

// FirstEntrySector is the first inode-table entry sector: the whole first
// page is reserved for the init sector and never shared with entries.
func (g Geometry) FirstEntrySector() uint32 {
	return g.SectorsPerPage
}

// EntriesPerInodeBlock returns how many two-sector inode entries fit between
// FirstEntrySector and the tail sector.
func (g Geometry) EntriesPerInodeBlock() uint32 {
	usable := g.TailSector() - g.FirstEntrySector()
	return usable / 2
}

// Validate checks that the geometry is internally consistent and large
// enough to host the fixed-size headers every block carries.
func (g Geometry) Validate() error {
	if g.SectorSize == 0 || g.SectorsPerPage == 0 || g.PagesPerBlock == 0 || g.NBlocks == 0 {
		return fmt.Errorf("flogfs: geometry has a zero dimension")
	}
	if g.MaxFilenameLen == 0 {
		return fmt.Errorf("flogfs: MaxFilenameLen must be > 0")
	}
	if g.PreallocSize <= 0 {
		return fmt.Errorf("flogfs: PreallocSize must be > 0")
	}
	if g.SectorsPerBlock() < 5 {
		return fmt.Errorf("flogfs: SectorsPerBlock() == %d, need at least 5 (init, >=1 entry pair, tail, invalidation)", g.SectorsPerBlock())
	}
	if g.FirstEntrySector()+2 > g.TailSector() {
		return fmt.Errorf("flogfs: geometry leaves no room for inode entries")
	}
	if int(g.SectorSize) < fileInitHeaderSize || int(g.SectorSize) < inodeInitHeaderSize ||
		int(g.SectorSize) < fileTailHeaderSize || int(g.SectorSize) < blockStatSize {
		return fmt.Errorf("flogfs: SectorSize too small for block headers")
	}
	return nil
}

// Option configures a Filesystem at construction time, following the
// functional-option pattern used throughout this codebase's teacher
// functional-options pattern.
type Option func(*Filesystem) error

// WithLogger attaches a structured logger. A nil logger (the default) makes
// the filesystem silent, which is appropriate for the smallest embedded
// targets this format is designed for.
func WithLogger(l Logger) Option {
	return func(fs *Filesystem) error {
		fs.log = l
		return nil
	}
}

// WithBaseThreshold sets the default per-file wear-leveling age threshold
// (spec §4.4). Every file opened for writing, and every inode-block
// allocation, uses this value; there is no per-file override.
func WithBaseThreshold(t int32) Option {
	return func(fs *Filesystem) error {
		fs.baseThreshold = t
		return nil
	}
}

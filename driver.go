package flogfs

// Driver is the flash abstraction interface consumed by the core (spec §6,
// component C1). It is implemented by a host's NAND driver; this repository
// never implements it against real hardware, only against flashsim's
// in-memory and file-backed simulators. Every method may block; none of
// them are safe for concurrent use from multiple goroutines — the core
// serializes all access under its own locks (spec §5).
type Driver interface {
	// Init prepares the driver for use. Called once, before any other method.
	Init() error

	// Lock/Unlock are the coarse device mutex mentioned in spec §5. The core
	// does not call them: every driver call it makes happens while the
	// Filesystem's own mutex is held.
	Lock()
	Unlock()

	// OpenPage reads a page into the driver's internal one-page cache. Only
	// called on a page-cache miss (see pagecache.go).
	OpenPage(block, page uint32) error

	// ClosePage discards the internal page cache without writing anything.
	ClosePage()

	// BlockIsBad queries the manufacturer/driver bad-block marker of the
	// block whose page is currently open. Ground truth, not a heuristic.
	BlockIsBad() bool

	// EraseBlock erases a block. A non-nil error is interpreted as "this
	// block is bad" (spec §6) and the block is never reused.
	EraseBlock(block uint32) error

	// ReadSector reads n bytes at offset from the given sector of the
	// currently open page into dst. dst must have length >= n.
	ReadSector(dst []byte, sector uint32, offset, n uint32) error

	// WriteSector programs n bytes at offset into the given sector of the
	// currently open (cached) page. Programs are not guaranteed durable
	// until PageCommit.
	WriteSector(src []byte, sector uint32, offset, n uint32) error

	// ReadSpare reads the out-of-band spare area of a sector.
	ReadSpare(dst []byte, sector uint32) error

	// WriteSpare programs the out-of-band spare area of a sector.
	WriteSpare(src []byte, sector uint32) error

	// PageCommit flushes pending WriteSector/WriteSpare programs for the
	// currently open page to media. Endurance-critical: invoked at minimum
	// granularity by the core.
	PageCommit() error

	// SpareSize reports the number of usable bytes in a sector's spare area
	// (>= 16, spec §2).
	SpareSize() uint32
}

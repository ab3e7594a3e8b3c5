package flogfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrNotFormatted is returned by Mount when the media has no valid inode0.
	ErrNotFormatted = errors.New("flogfs: media not formatted")

	// ErrAlreadyMounted is not returned by any operation in this package:
	// Mount on an already-mounted handle is a no-op that returns nil.
	ErrAlreadyMounted = errors.New("flogfs: already mounted")

	// ErrNotMounted is returned by Exists, OpenRead, OpenWrite, Remove, Stat
	// and ListStart on a handle that is not mounted.
	ErrNotMounted = errors.New("flogfs: not mounted")

	// ErrCorrupt means an on-media record failed its type/identity check.
	// Mount quarantines a block whose type tag cannot be decoded for the
	// remainder of the session; the other operations that return ErrCorrupt
	// (opening a file whose first block carries another file_id, reading an
	// inode0 with a nonzero inode index) do not quarantine the block.
	ErrCorrupt = errors.New("flogfs: corrupt block")

	// ErrBadBlock means the driver's bad-block predicate fired for this block.
	ErrBadBlock = errors.New("flogfs: bad block")

	// ErrNoSpace is the resource-exhaustion failure of spec §7: no free block
	// met the allocator's threshold, or the inode table has no free entry.
	ErrNoSpace = errors.New("flogfs: no free space")

	// ErrNotFound is the benign not-found failure of spec §7.
	ErrNotFound = errors.New("flogfs: file not found")

	// ErrNameTooLong is returned when a filename does not fit in MaxFilenameLen-1 bytes.
	ErrNameTooLong = errors.New("flogfs: filename too long")

	// ErrReadOnly and ErrWriteOnly are not returned by any operation in this
	// package.
	ErrReadOnly  = errors.New("flogfs: file not open for writing")
	ErrWriteOnly = errors.New("flogfs: file not open for reading")

	// ErrClosed is returned by operations on an already-closed file handle.
	ErrClosed = errors.New("flogfs: file handle closed")
)

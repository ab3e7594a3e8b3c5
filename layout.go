package flogfs

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"github.com/go-restruct/restruct"
)

// MaxFilenameLen is the spec-mandated default filename budget (§6),
// including the trailing NUL.
const MaxFilenameLen = 32

// blockType is the persistent type tag stored in the spare of a block's
// init sector (spec §3). The values are 0xFF, 0x01 and 0x02: 0xFF is 7 bits
// away from either allocated tag, so a single bit flip never turns a free
// block into an allocated one or back, but 0x01 and 0x02 differ in only 2
// bits, so a single flip of either can land equidistant from both and then
// decodes as ambiguous (corrupt) rather than as the intended value.
type blockType uint8

const (
	typeUnallocated blockType = 0xFF
	typeInode       blockType = 0x01
	typeFile        blockType = 0x02
)

// classifyTypeByte decodes a possibly bit-flipped type tag byte by nearest Hamming
// distance among the three valid values, per spec §9 ("implementations
// should decode by Hamming distance, not equality"). A tag that is still
// ambiguous (tied distance) is treated as corrupt.
func classifyTypeByte(b byte) (blockType, bool) {
	candidates := []blockType{typeUnallocated, typeInode, typeFile}
	bestDist := 9
	bestTies := 0
	var best blockType
	for _, c := range candidates {
		d := bits.OnesCount8(b ^ byte(c))
		switch {
		case d < bestDist:
			bestDist = d
			best = c
			bestTies = 1
		case d == bestDist:
			bestTies++
		}
	}
	if bestTies != 1 {
		return 0, false
	}
	return best, true
}

var order = binary.LittleEndian

func pack(v interface{}) []byte {
	b, err := restruct.Pack(order, v)
	if err != nil {
		// every type packed in this file is a fixed-size struct of plain
		// integers/byte arrays; Pack can only fail on reflect misuse, which
		// would be a programming error caught immediately by any test.
		panic("flogfs: packing a fixed-layout record failed: " + err.Error())
	}
	return b
}

func unpack(data []byte, v interface{}) error {
	return restruct.Unpack(data, order, v)
}

// --- File block records (spec §4.1) ---

// fileInitHeader occupies the front of sector 0 of a file block.
type fileInitHeader struct {
	Age    uint32
	FileID uint32
}

const fileInitHeaderSize = 4 + 4

// fileTailHeader occupies the front of the tail sector of a file block.
type fileTailHeader struct {
	NextBlock    uint16
	NextAge      uint32
	Timestamp    uint32
	BytesInBlock uint16
}

const fileTailHeaderSize = 2 + 4 + 4 + 2

// fileSectorSpare is the spare layout of every data/init sector of a file block.
type fileSectorSpare struct {
	TypeID   uint8
	Reserved uint8
	NBytes   uint16
}

const fileSectorSpareSize = 1 + 1 + 2

// fileInvalidationSector is the pre-reclaim marker a file block's own
// invalidation sector may carry mid-deletion, before invalidate_chain
// finishes and overwrites it with a full blockStat record (spec §4.1, §4.7).
type fileInvalidationSector struct {
	Timestamp uint32
	NextAge   uint32
}

// --- Inode block records (spec §4.1) ---

// inodeInitHeader occupies the front of sector 0 of an inode block.
type inodeInitHeader struct {
	Age           uint32
	Timestamp     uint32
	PreviousBlock uint16
}

const inodeInitHeaderSize = 4 + 4 + 2

// inodeTailHeader occupies the front of the tail sector of an inode block
// (no bytes_in_block: inode blocks don't track a byte count).
type inodeTailHeader struct {
	NextBlock uint16
	NextAge   uint32
	Timestamp uint32
}

const inodeTailHeaderSize = 2 + 4 + 4

// inodeInitSpare is the spare of an inode block's init sector.
type inodeInitSpare struct {
	TypeID     uint8
	Reserved   uint8
	InodeIndex uint16
}

// inodeAllocEntry is the first of the two sectors making up one inode entry.
type inodeAllocEntry struct {
	FileID        uint32
	FirstBlock    uint16
	FirstBlockAge uint32
	Timestamp     uint32
	Filename      [MaxFilenameLen]byte
}

// inodeInvalEntry is the second of the two sectors making up one inode entry.
type inodeInvalEntry struct {
	Timestamp uint32
	LastBlock uint16
}

// --- Block stat record (spec §4.1, §3 invariant 7) ---

// statMagicKey detects an invalidation sector that has never been through
// format/reclaim (vs. one that merely reads as erased-state).
var statMagicKey = [8]byte{'F', 'L', 'O', 'G', 'F', 'S', '0', '1'}

// blockStat is written into a block's invalidation sector whenever the
// block is erased (format or reclaim), so that age survives erasure even
// though erasure resets every other sector to erased-state (spec invariant 7).
type blockStat struct {
	Age       uint32
	NextBlock uint16
	NextAge   uint32
	Timestamp uint32
	Key       [8]byte
}

// invalid is the spec's INVALID sentinel: all-ones for every integer width
// used in these records.
const (
	invalidU16 uint16 = 0xFFFF
	invalidU32 uint32 = 0xFFFFFFFF
)

func isErasedBytes(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

func erasedFill(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

func truncateName(name string, maxLen uint32) ([]byte, error) {
	if uint32(len(name))+1 > maxLen {
		return nil, ErrNameTooLong
	}
	buf := bytes.Repeat([]byte{0}, int(maxLen))
	copy(buf, name)
	return buf, nil
}

func nameFromBytes(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Package flashsim provides flogfs.Driver implementations for tests and the
// CLI: an in-memory simulator and a file-backed one, both implementing a
// full read/write/erase flash model with the single-open-page discipline
// flogfs.Driver requires.
package flashsim

import (
	"fmt"
	"os"
)

// Layout describes how a simulated array's raw bytes map onto
// block/page/sector coordinates. It mirrors flogfs.Geometry's dimensions
// without importing the flogfs package, keeping flashsim usable by anyone
// who only wants a Driver, not the filesystem core.
type Layout struct {
	SectorSize     uint32
	SpareBytes     uint32
	SectorsPerPage uint32
	PagesPerBlock  uint32
	NBlocks        uint32
}

func (l Layout) sectorsPerBlock() uint32 { return l.SectorsPerPage * l.PagesPerBlock }
func (l Layout) blockDataBytes() int     { return int(l.sectorsPerBlock() * l.SectorSize) }
func (l Layout) blockSpareBytes() int    { return int(l.sectorsPerBlock() * l.SpareBytes) }

func erasedFill(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// Mem is a fully in-memory flogfs.Driver, suitable for unit tests and the
// wear-leveling property test of spec §8 (many create/delete cycles with
// no filesystem I/O). It honors the open-page/commit discipline precisely
// enough to support crash-simulation tests: writes a driver receives are
// invisible to reads of the underlying block until PageCommit, and a
// dropped reference before PageCommit behaves exactly like a power loss.
type Mem struct {
	Layout
	data  [][]byte
	spare [][]byte
	bad   map[uint32]bool

	isOpen      bool
	openBlock   uint32
	openPage    uint32
	shadowData  []byte
	shadowSpare []byte
}

// NewMem builds an all-erased array of the given layout.
func NewMem(l Layout) *Mem {
	m := &Mem{Layout: l, bad: make(map[uint32]bool)}
	m.data = make([][]byte, l.NBlocks)
	m.spare = make([][]byte, l.NBlocks)
	for b := range m.data {
		m.data[b] = erasedFill(l.blockDataBytes())
		m.spare[b] = erasedFill(l.blockSpareBytes())
	}
	return m
}

// MarkBad flags a block as a manufacturer-bad block, for tests exercising
// format/mount's bad-block handling. Not part of the Driver interface.
func (m *Mem) MarkBad(block uint32) { m.bad[block] = true }

func (m *Mem) Init() error { return nil }
func (m *Mem) Lock()       {}
func (m *Mem) Unlock()     {}

func (m *Mem) OpenPage(block, page uint32) error {
	if block >= m.NBlocks {
		return fmt.Errorf("flashsim: block %d out of range (have %d)", block, m.NBlocks)
	}
	if page >= m.PagesPerBlock {
		return fmt.Errorf("flashsim: page %d out of range (have %d)", page, m.PagesPerBlock)
	}
	start, end := m.pageDataRange(page)
	spStart, spEnd := m.pageSpareRange(page)
	m.shadowData = append([]byte(nil), m.data[block][start:end]...)
	m.shadowSpare = append([]byte(nil), m.spare[block][spStart:spEnd]...)
	m.openBlock = block
	m.openPage = page
	m.isOpen = true
	return nil
}

func (m *Mem) ClosePage() {
	m.isOpen = false
	m.shadowData = nil
	m.shadowSpare = nil
}

func (m *Mem) BlockIsBad() bool {
	return m.bad[m.openBlock]
}

func (m *Mem) EraseBlock(block uint32) error {
	if block >= m.NBlocks {
		return fmt.Errorf("flashsim: block %d out of range", block)
	}
	if m.bad[block] {
		return fmt.Errorf("flashsim: block %d is bad", block)
	}
	m.data[block] = erasedFill(m.blockDataBytes())
	m.spare[block] = erasedFill(m.blockSpareBytes())
	m.isOpen = false
	return nil
}

func (m *Mem) pageDataRange(page uint32) (int, int) {
	start := int(page*m.SectorsPerPage) * int(m.SectorSize)
	end := start + int(m.SectorsPerPage)*int(m.SectorSize)
	return start, end
}

func (m *Mem) pageSpareRange(page uint32) (int, int) {
	start := int(page*m.SectorsPerPage) * int(m.SpareBytes)
	end := start + int(m.SectorsPerPage)*int(m.SpareBytes)
	return start, end
}

func (m *Mem) localSectorOffset(sector, offset uint32) int {
	localSector := sector % m.SectorsPerPage
	return int(localSector*m.SectorSize + offset)
}

func (m *Mem) ReadSector(dst []byte, sector, offset, n uint32) error {
	if !m.isOpen {
		return fmt.Errorf("flashsim: read with no open page")
	}
	off := m.localSectorOffset(sector, offset)
	if off+int(n) > len(m.shadowData) {
		return fmt.Errorf("flashsim: read out of bounds")
	}
	copy(dst, m.shadowData[off:off+int(n)])
	return nil
}

func (m *Mem) WriteSector(src []byte, sector, offset, n uint32) error {
	if !m.isOpen {
		return fmt.Errorf("flashsim: write with no open page")
	}
	off := m.localSectorOffset(sector, offset)
	if off+int(n) > len(m.shadowData) {
		return fmt.Errorf("flashsim: write out of bounds")
	}
	copy(m.shadowData[off:off+int(n)], src[:n])
	return nil
}

func (m *Mem) localSpareOffset(sector uint32) int {
	localSector := sector % m.SectorsPerPage
	return int(localSector * m.SpareBytes)
}

func (m *Mem) ReadSpare(dst []byte, sector uint32) error {
	if !m.isOpen {
		return fmt.Errorf("flashsim: read spare with no open page")
	}
	off := m.localSpareOffset(sector)
	n := len(dst)
	if off+n > len(m.shadowSpare) {
		return fmt.Errorf("flashsim: spare read out of bounds")
	}
	copy(dst, m.shadowSpare[off:off+n])
	return nil
}

func (m *Mem) WriteSpare(src []byte, sector uint32) error {
	if !m.isOpen {
		return fmt.Errorf("flashsim: write spare with no open page")
	}
	off := m.localSpareOffset(sector)
	if off+len(src) > len(m.shadowSpare) {
		return fmt.Errorf("flashsim: spare write out of bounds")
	}
	copy(m.shadowSpare[off:off+len(src)], src)
	return nil
}

func (m *Mem) PageCommit() error {
	if !m.isOpen {
		return fmt.Errorf("flashsim: commit with no open page")
	}
	start, end := m.pageDataRange(m.openPage)
	spStart, spEnd := m.pageSpareRange(m.openPage)
	copy(m.data[m.openBlock][start:end], m.shadowData)
	copy(m.spare[m.openBlock][spStart:spEnd], m.shadowSpare)
	return nil
}

func (m *Mem) SpareSize() uint32 { return m.SpareBytes }

// File is a file-backed flogfs.Driver: the array lives in one regular file,
// sized NBlocks*(blockDataBytes+blockSpareBytes) up front, addressed via
// os.File's ReadAt/WriteAt so writes land in place without buffering the
// whole image.
type File struct {
	Layout
	f *os.File

	isOpen      bool
	openBlock   uint32
	openPage    uint32
	shadowData  []byte
	shadowSpare []byte
}

// OpenFile creates path if necessary and returns a ready-to-use driver over
// it. If the file's size differs from the layout's, it is resized and filled
// with erased-state bytes; a file already of that size keeps its contents.
func OpenFile(path string, l Layout) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	want := int64(l.NBlocks) * int64(l.blockDataBytes()+l.blockSpareBytes())
	if fi.Size() != want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
		fill := erasedFill(1 << 20)
		var written int64
		for written < want {
			n := int64(len(fill))
			if want-written < n {
				n = want - written
			}
			if _, err := f.WriteAt(fill[:n], written); err != nil {
				f.Close()
				return nil, err
			}
			written += n
		}
	}
	return &File{Layout: l, f: f}, nil
}

func (fl *File) blockOffset(block uint32) int64 {
	return int64(block) * int64(fl.blockDataBytes()+fl.blockSpareBytes())
}

func (fl *File) spareBase(block uint32) int64 {
	return fl.blockOffset(block) + int64(fl.blockDataBytes())
}

func (fl *File) Init() error { return nil }
func (fl *File) Lock()       {}
func (fl *File) Unlock()     {}
func (fl *File) Close() error { return fl.f.Close() }

func (fl *File) OpenPage(block, page uint32) error {
	if block >= fl.NBlocks || page >= fl.PagesPerBlock {
		return fmt.Errorf("flashsim: (block %d, page %d) out of range", block, page)
	}
	dataLen := int(fl.SectorsPerPage * fl.SectorSize)
	spareLen := int(fl.SectorsPerPage * fl.SpareBytes)
	fl.shadowData = make([]byte, dataLen)
	fl.shadowSpare = make([]byte, spareLen)
	dataOff := fl.blockOffset(block) + int64(page)*int64(dataLen)
	spareOff := fl.spareBase(block) + int64(page)*int64(spareLen)
	if _, err := fl.f.ReadAt(fl.shadowData, dataOff); err != nil {
		return err
	}
	if _, err := fl.f.ReadAt(fl.shadowSpare, spareOff); err != nil {
		return err
	}
	fl.openBlock, fl.openPage, fl.isOpen = block, page, true
	return nil
}

func (fl *File) ClosePage() {
	fl.isOpen = false
	fl.shadowData = nil
	fl.shadowSpare = nil
}

func (fl *File) BlockIsBad() bool { return false }

func (fl *File) EraseBlock(block uint32) error {
	if block >= fl.NBlocks {
		return fmt.Errorf("flashsim: block %d out of range", block)
	}
	if _, err := fl.f.WriteAt(erasedFill(fl.blockDataBytes()), fl.blockOffset(block)); err != nil {
		return err
	}
	if _, err := fl.f.WriteAt(erasedFill(fl.blockSpareBytes()), fl.spareBase(block)); err != nil {
		return err
	}
	fl.isOpen = false
	return nil
}

func (fl *File) ReadSector(dst []byte, sector, offset, n uint32) error {
	local := int(sector%fl.SectorsPerPage)*int(fl.SectorSize) + int(offset)
	copy(dst, fl.shadowData[local:local+int(n)])
	return nil
}

func (fl *File) WriteSector(src []byte, sector, offset, n uint32) error {
	local := int(sector%fl.SectorsPerPage)*int(fl.SectorSize) + int(offset)
	copy(fl.shadowData[local:local+int(n)], src[:n])
	return nil
}

func (fl *File) ReadSpare(dst []byte, sector uint32) error {
	local := int(sector%fl.SectorsPerPage) * int(fl.SpareBytes)
	copy(dst, fl.shadowSpare[local:local+len(dst)])
	return nil
}

func (fl *File) WriteSpare(src []byte, sector uint32) error {
	local := int(sector%fl.SectorsPerPage) * int(fl.SpareBytes)
	copy(fl.shadowSpare[local:local+len(src)], src)
	return nil
}

func (fl *File) PageCommit() error {
	dataLen := int(fl.SectorsPerPage * fl.SectorSize)
	spareLen := int(fl.SectorsPerPage * fl.SpareBytes)
	dataOff := fl.blockOffset(fl.openBlock) + int64(fl.openPage)*int64(dataLen)
	spareOff := fl.spareBase(fl.openBlock) + int64(fl.openPage)*int64(spareLen)
	if _, err := fl.f.WriteAt(fl.shadowData, dataOff); err != nil {
		return err
	}
	if _, err := fl.f.WriteAt(fl.shadowSpare, spareOff); err != nil {
		return err
	}
	return nil
}

func (fl *File) SpareSize() uint32 { return fl.Layout.SpareBytes }

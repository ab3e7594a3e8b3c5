package flogfs

// pageCache is the single-open-page shim of spec §4.2. The underlying flash
// driver only ever has one page's worth of data cached at a time; this type
// tracks which (block, page) that is so the core only issues a driver
// OpenPage call on a genuine miss, mirroring the read-ahead buffer in
// a single-block read-ahead buffer, adapted from "one compressed
// metadata block" to "one NAND page".
type pageCache struct {
	drv Driver
	geo Geometry

	open       bool
	openBlock  uint32
	openPage   uint32
	lastResult error
}

func newPageCache(drv Driver, geo Geometry) *pageCache {
	return &pageCache{drv: drv, geo: geo}
}

// invalidate discards the cached page identity without telling the driver;
// used after an erase or an explicit ClosePage, both of which already
// invalidate the driver's own cache.
func (pc *pageCache) invalidate() {
	pc.open = false
}

// openSector ensures the page containing (block, sector) is the driver's
// open page, issuing OpenPage only on a miss.
func (pc *pageCache) openSector(block, sector uint32) error {
	page := sector / pc.geo.SectorsPerPage
	if pc.open && pc.openBlock == block && pc.openPage == page {
		return pc.lastResult
	}
	err := pc.drv.OpenPage(block, page)
	pc.open = err == nil
	pc.openBlock = block
	pc.openPage = page
	pc.lastResult = err
	return err
}

func (pc *pageCache) readSector(block, sector uint32, dst []byte, offset uint32) error {
	if err := pc.openSector(block, sector); err != nil {
		return err
	}
	return pc.drv.ReadSector(dst, sector, offset, uint32(len(dst)))
}

func (pc *pageCache) writeSector(block, sector uint32, src []byte, offset uint32) error {
	if err := pc.openSector(block, sector); err != nil {
		return err
	}
	return pc.drv.WriteSector(src, sector, offset, uint32(len(src)))
}

func (pc *pageCache) readSpare(block, sector uint32, dst []byte) error {
	if err := pc.openSector(block, sector); err != nil {
		return err
	}
	return pc.drv.ReadSpare(dst, sector)
}

func (pc *pageCache) writeSpare(block, sector uint32, src []byte) error {
	if err := pc.openSector(block, sector); err != nil {
		return err
	}
	return pc.drv.WriteSpare(src, sector)
}

// commit flushes pending programs for the currently open page and
// invalidates the cache, matching the spec's "any commit ... invalidates
// the cache" rule (§4.2).
func (pc *pageCache) commit() error {
	err := pc.drv.PageCommit()
	pc.invalidate()
	return err
}

// erase erases a block and invalidates the cache, regardless of which page
// was open (an erase always invalidates, per spec §4.2).
func (pc *pageCache) erase(block uint32) error {
	err := pc.drv.EraseBlock(block)
	pc.invalidate()
	return err
}

// closePage discards the driver's open page without writing it, used by
// invalidate_chain (spec §4.7 "close the page cache, erase the block") so a
// stale read of a soon-to-be-erased block can never linger in the cache.
func (pc *pageCache) closePage() {
	if pc.open {
		pc.drv.ClosePage()
	}
	pc.invalidate()
}

// Package vectorfile implements fixed-size keyed record files over the
// page store: VectorFile (one value per key, null bitmap), MultiVectorFile
// (several fixed fields per key, per-field null bitmap) and AreaVectorFile
// (6-byte page/area locators, sentinel nulls, no bitmap).
//
// Layout shared by all three: page 0 is the header, content pages start at
// page 1. Every newly allocated content page is filled with 0xff so every
// slot starts out null.
package vectorfile

import (
	"encoding/binary"
	"fmt"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// Header is the page-0 image. MaxPageID survives recoverAllPages because
// page allocation is never rolled back.
type Header struct {
	Version   uint32
	Count     uint32
	MaxKey    uint32
	MaxPageID uint32
}

const (
	headerVersion = 1
	// subHeaderOffset is where a subclass header region begins on page 0;
	// bytes 16..64 are reserved.
	subHeaderOffset = 64
)

// vpage is one fixed content page plus its dirty flag.
type vpage struct {
	p     *pagestore.Page
	dirty bool
}

// base carries the header cache, the one-slot current-page cache and the
// dirty-page map shared by all vector file kinds.
type base struct {
	file         pagestore.File
	tx           *trans.Transaction
	header       Header
	headerPage   *vpage
	current      *vpage
	dirty        map[types.PageID]*vpage
	recordSize   int
	fieldCount   int // bitmap bits per record; 0 means sentinel nulls
	countPerPage int
}

func newBase(f pagestore.File, recordSize, fieldCount int) *base {
	content := f.ContentSize()
	var cpp int
	if fieldCount > 0 {
		cpp = (content * 8) / (recordSize*8 + fieldCount)
	} else {
		cpp = content / recordSize
	}
	return &base{
		file:         f,
		dirty:        make(map[types.PageID]*vpage),
		recordSize:   recordSize,
		fieldCount:   fieldCount,
		countPerPage: cpp,
	}
}

// CountPerPage is how many records one content page holds.
func (b *base) CountPerPage() int { return b.countPerPage }

// pageOf maps a key to its content page id (header is page 0).
func (b *base) pageOf(key uint32) types.PageID {
	return types.PageID(key/uint32(b.countPerPage)) + 1
}

func (b *base) slotOf(key uint32) int {
	return int(key % uint32(b.countPerPage))
}

// open binds the transaction and loads (or initializes) the header.
func (b *base) open(tx *trans.Transaction) error {
	b.tx = tx
	if b.file.MaxPageID() == types.NullPageID {
		// Fresh file: allocate the header page.
		p, err := b.file.Fix(tx, 0, pagestore.Write|pagestore.Allocate|pagestore.Discardable)
		if err != nil {
			return err
		}
		b.headerPage = &vpage{p: p, dirty: true}
		b.header = Header{Version: headerVersion, MaxPageID: 0}
		b.writeHeader()
		return nil
	}
	p, err := b.file.Fix(tx, 0, pagestore.Write|pagestore.Discardable)
	if err != nil {
		return err
	}
	b.headerPage = &vpage{p: p}
	b.readHeader()
	return nil
}

func (b *base) readHeader() {
	d := b.headerPage.p.Data()
	b.header.Version = binary.LittleEndian.Uint32(d[0:])
	b.header.Count = binary.LittleEndian.Uint32(d[4:])
	b.header.MaxKey = binary.LittleEndian.Uint32(d[8:])
	b.header.MaxPageID = binary.LittleEndian.Uint32(d[12:])
}

func (b *base) writeHeader() {
	d := b.headerPage.p.Data()
	binary.LittleEndian.PutUint32(d[0:], b.header.Version)
	binary.LittleEndian.PutUint32(d[4:], b.header.Count)
	binary.LittleEndian.PutUint32(d[8:], b.header.MaxKey)
	binary.LittleEndian.PutUint32(d[12:], b.header.MaxPageID)
	b.headerPage.dirty = true
}

// SubHeader exposes the reserved page-0 region to subclasses, re-fixing
// the header page if a flush dropped it.
func (b *base) SubHeader() ([]byte, error) {
	if err := b.ensureHeader(); err != nil {
		return nil, err
	}
	return b.headerPage.p.Data()[subHeaderOffset:], nil
}

// MarkSubHeaderDirty flags the header page after a subclass header write.
func (b *base) MarkSubHeaderDirty() { b.headerPage.dirty = true }

// fixPage returns the content page for id, rotating the one-slot current
// cache: a displaced dirty current page parks in the dirty map, a clean
// one is simply unfixed.
func (b *base) fixPage(id types.PageID, allocate bool) (*vpage, error) {
	if b.current != nil && b.current.p.ID == id {
		return b.current, nil
	}
	if b.current != nil {
		if b.current.dirty {
			b.dirty[b.current.p.ID] = b.current
		} else {
			b.current.p.Unfix(true)
		}
		b.current = nil
	}
	if vp, ok := b.dirty[id]; ok {
		delete(b.dirty, id)
		b.current = vp
		return vp, nil
	}
	mode := pagestore.Write | pagestore.Discardable
	if allocate {
		mode |= pagestore.Allocate
	}
	p, err := b.file.Fix(b.tx, id, mode)
	if err != nil {
		return nil, err
	}
	b.current = &vpage{p: p}
	return b.current, nil
}

// allocateThrough makes every content page in (header.MaxPageID, id] exist,
// each freshly filled with 0xff. The fills are committed immediately: page
// allocation is never rolled back, and a later Discardable fix must
// snapshot the all-null image, not the allocator's zeros.
func (b *base) allocateThrough(id types.PageID) error {
	for next := types.PageID(b.header.MaxPageID) + 1; next <= id; next++ {
		p, err := b.file.Fix(b.tx, next, pagestore.Write|pagestore.Allocate)
		if err != nil {
			return err
		}
		fill(p.Data(), 0xff)
		p.Unfix(true)
		b.header.MaxPageID = uint32(next)
	}
	b.writeHeader()
	return nil
}

func fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}
}

// FlushAllPages commits the current page, every parked dirty page and the
// header page.
func (b *base) FlushAllPages() error {
	if b.current != nil {
		b.current.p.Unfix(true)
		b.current = nil
	}
	for id, vp := range b.dirty {
		vp.p.Unfix(true)
		delete(b.dirty, id)
	}
	if b.headerPage != nil {
		b.writeHeader()
		b.headerPage.p.Unfix(true)
		b.headerPage = nil
	}
	return b.file.Sync(b.tx)
}

// RecoverAllPages discards the current page, every parked dirty page and
// the header page, restoring their on-disk images — except MaxPageID,
// which is preserved because allocations are not rolled back.
func (b *base) RecoverAllPages() error {
	keepMax := b.header.MaxPageID
	if b.current != nil {
		b.current.p.Unfix(false)
		b.current = nil
	}
	for id, vp := range b.dirty {
		vp.p.Unfix(false)
		delete(b.dirty, id)
	}
	if b.headerPage != nil {
		b.headerPage.p.Unfix(false)
		b.headerPage = nil
	}
	// Re-fix the header to pin MaxPageID at its post-allocation value.
	p, err := b.file.Fix(b.tx, 0, pagestore.Write|pagestore.Discardable)
	if err != nil {
		return err
	}
	b.headerPage = &vpage{p: p}
	b.readHeader()
	if b.header.MaxPageID != keepMax {
		b.header.MaxPageID = keepMax
		b.writeHeader()
	}
	return nil
}

// close flushes and drops the page handles. The file itself stays open.
func (b *base) close() error {
	return b.FlushAllPages()
}

// ensureHeader re-fixes page 0 after a FlushAllPages dropped it.
func (b *base) ensureHeader() error {
	if b.headerPage != nil {
		return nil
	}
	p, err := b.file.Fix(b.tx, 0, pagestore.Write|pagestore.Discardable)
	if err != nil {
		return err
	}
	b.headerPage = &vpage{p: p}
	b.readHeader()
	return nil
}

// record returns the slot bytes for key on an already-fixed page.
func (b *base) record(vp *vpage, key uint32) []byte {
	off := b.slotOf(key) * b.recordSize
	return vp.p.Data()[off : off+b.recordSize]
}

// bitmapIndex addresses field fld of key's slot within the page's trailing
// bitmap region. Only meaningful when fieldCount > 0.
func (b *base) bitmapIndex(key uint32, fld int) (byteOff int, mask byte) {
	bit := b.slotOf(key)*b.fieldCount + fld
	byteOff = b.countPerPage*b.recordSize + bit/8
	mask = 1 << uint(bit%8)
	return
}

func (b *base) isNull(vp *vpage, key uint32, fld int) bool {
	off, mask := b.bitmapIndex(key, fld)
	return vp.p.Data()[off]&mask != 0
}

func (b *base) setNull(vp *vpage, key uint32, fld int, null bool) {
	off, mask := b.bitmapIndex(key, fld)
	d := vp.p.Data()
	if null {
		d[off] |= mask
	} else {
		d[off] &^= mask
	}
	vp.dirty = true
}

// Count returns the live record count from the header.
func (b *base) Count() uint32 { return b.header.Count }

// MaxKey returns the largest key ever inserted.
func (b *base) MaxKey() uint32 { return b.header.MaxKey }

// MaxPageID returns the header's recorded page high-water mark.
func (b *base) MaxPageID() types.PageID { return types.PageID(b.header.MaxPageID) }

// Clear resets Count and MaxKey to zero and refills every existing content
// page with 0xff. MaxPageID is deliberately untouched: the pages stay
// allocated for reuse. Each page is committed as it is rewritten, then the
// header last, so a crash mid-clear leaves a prefix of pages nulled and the
// header still describing the pre-clear state; verify repairs that.
func (b *base) Clear() error {
	if err := b.ensureHeader(); err != nil {
		return err
	}
	for id := types.PageID(1); id <= types.PageID(b.header.MaxPageID); id++ {
		vp, err := b.fixPage(id, false)
		if err != nil {
			return err
		}
		fill(vp.p.Data(), 0xff)
		vp.dirty = true
		// Commit page-by-page.
		if b.current == vp {
			b.current = nil
		}
		delete(b.dirty, id)
		vp.p.Unfix(true)
	}
	b.header.Count = 0
	b.header.MaxKey = 0
	b.writeHeader()
	return nil
}

// errKeyRange is the shared failure for out-of-range reads.
func errKeyRange(op string, key uint32) error {
	return errs.New(errs.BadArgument, op, fmt.Errorf("key %d out of range", key))
}

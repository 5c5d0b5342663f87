package vectorfile

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// AreaLocator is the 6-byte value an AreaVectorFile stores: where a
// variable-length area lives.
type AreaLocator struct {
	PageID types.PageID
	AreaID types.AreaID
}

// areaRecordSize is sizeof(u32) + sizeof(u16), exactly.
const areaRecordSize = 6

// nullLocator is the all-ones sentinel meaning "no area".
var nullLocator = [areaRecordSize]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// AreaVectorFile maps a uint32 key to an AreaLocator. Nulls are encoded in
// the value itself (all bits one), so pages carry no bitmap region and a
// page holds contentSize/6 records.
type AreaVectorFile struct {
	*base
}

// NewAreaVectorFile wraps a page file as an area vector.
func NewAreaVectorFile(f pagestore.File) *AreaVectorFile {
	return &AreaVectorFile{base: newBase(f, areaRecordSize, 0)}
}

func (a *AreaVectorFile) Open(tx *trans.Transaction) error { return a.open(tx) }
func (a *AreaVectorFile) Close() error                     { return a.close() }

func encodeLocator(buf []byte, loc AreaLocator) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(loc.PageID))
	binary.LittleEndian.PutUint16(buf[4:], uint16(loc.AreaID))
}

func decodeLocator(buf []byte) AreaLocator {
	return AreaLocator{
		PageID: types.PageID(binary.LittleEndian.Uint32(buf[0:])),
		AreaID: types.AreaID(binary.LittleEndian.Uint16(buf[4:])),
	}
}

func isNullLocator(buf []byte) bool {
	return [areaRecordSize]byte(buf[:areaRecordSize]) == nullLocator
}

// Insert stores the locator for key.
func (a *AreaVectorFile) Insert(key uint32, loc AreaLocator) error {
	if err := a.ensureHeader(); err != nil {
		return err
	}
	pid := a.pageOf(key)
	if pid > types.PageID(a.header.MaxPageID) {
		if err := a.allocateThrough(pid); err != nil {
			return err
		}
	}
	vp, err := a.fixPage(pid, false)
	if err != nil {
		return err
	}
	rec := a.record(vp, key)
	wasNull := isNullLocator(rec)
	encodeLocator(rec, loc)
	vp.dirty = true
	if wasNull {
		a.header.Count++
		if key > a.header.MaxKey || a.header.Count == 1 {
			a.header.MaxKey = key
		}
		a.writeHeader()
	}
	return nil
}

// Expunge nulls the locator at key.
func (a *AreaVectorFile) Expunge(key uint32) error {
	if err := a.ensureHeader(); err != nil {
		return err
	}
	pid := a.pageOf(key)
	if pid > types.PageID(a.header.MaxPageID) {
		return errKeyRange("areavector.expunge", key)
	}
	vp, err := a.fixPage(pid, false)
	if err != nil {
		return err
	}
	rec := a.record(vp, key)
	if isNullLocator(rec) {
		return nil
	}
	copy(rec, nullLocator[:])
	vp.dirty = true
	if a.header.Count > 0 {
		a.header.Count--
	}
	a.writeHeader()
	return nil
}

// Get reads the locator for key; ok is false for nulls and keys beyond the
// allocated extent.
func (a *AreaVectorFile) Get(key uint32) (AreaLocator, bool, error) {
	if err := a.ensureHeader(); err != nil {
		return AreaLocator{}, false, err
	}
	pid := a.pageOf(key)
	if pid > types.PageID(a.header.MaxPageID) {
		return AreaLocator{}, false, nil
	}
	vp, err := a.fixPage(pid, false)
	if err != nil {
		return AreaLocator{}, false, err
	}
	rec := a.record(vp, key)
	if isNullLocator(rec) {
		return AreaLocator{}, false, nil
	}
	return decodeLocator(rec), true, nil
}

// GetAll streams every present key into out, page by page.
func (a *AreaVectorFile) GetAll(out *roaring.Bitmap) error {
	if err := a.ensureHeader(); err != nil {
		return err
	}
	for pid := types.PageID(1); pid <= types.PageID(a.header.MaxPageID); pid++ {
		vp, err := a.fixPage(pid, false)
		if err != nil {
			return err
		}
		baseKey := uint32(pid-1) * uint32(a.countPerPage)
		for slot := 0; slot < a.countPerPage; slot++ {
			off := slot * areaRecordSize
			if !isNullLocator(vp.p.Data()[off : off+areaRecordSize]) {
				out.Add(baseKey + uint32(slot))
			}
		}
	}
	return nil
}

// PageEntry is one present (key, locator) pair from GetPageData.
type PageEntry struct {
	Key     uint32
	Locator AreaLocator
}

// GetPageData returns the densely packed present entries of one content
// page, for migration and verify.
func (a *AreaVectorFile) GetPageData(pid types.PageID) ([]PageEntry, error) {
	if err := a.ensureHeader(); err != nil {
		return nil, err
	}
	if pid == 0 || pid > types.PageID(a.header.MaxPageID) {
		return nil, errKeyRange("areavector.getpagedata", uint32(pid))
	}
	vp, err := a.fixPage(pid, false)
	if err != nil {
		return nil, err
	}
	baseKey := uint32(pid-1) * uint32(a.countPerPage)
	var out []PageEntry
	for slot := 0; slot < a.countPerPage; slot++ {
		off := slot * areaRecordSize
		rec := vp.p.Data()[off : off+areaRecordSize]
		if !isNullLocator(rec) {
			out = append(out, PageEntry{Key: baseKey + uint32(slot), Locator: decodeLocator(rec)})
		}
	}
	return out, nil
}

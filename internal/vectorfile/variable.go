package vectorfile

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// VariableFile stores variable-length blobs addressed by a uint32 key. The
// directory is an AreaVectorFile mapping key to (page, area); the data
// file packs areas append-only per page.
//
// Data page layout: areaCount(2) used(2), then per area len(2)+bytes in
// arrival order. The area id is the area's ordinal within its page.
type VariableFile struct {
	dir  *AreaVectorFile
	data pagestore.File
	tx   *trans.Transaction
}

const varPageHeader = 4

// NewVariableFile binds a directory and data page file pair.
func NewVariableFile(dir, data pagestore.File) *VariableFile {
	return &VariableFile{dir: NewAreaVectorFile(dir), data: data}
}

func (v *VariableFile) Open(tx *trans.Transaction) error {
	v.tx = tx
	return v.dir.Open(tx)
}

func (v *VariableFile) Close() error { return v.dir.Close() }

func (v *VariableFile) Flush() error {
	if err := v.dir.FlushAllPages(); err != nil {
		return err
	}
	return v.data.Sync(v.tx)
}

// Put stores blob under key. An existing blob is superseded: the directory
// repoints and the old area becomes garbage until the file is rebuilt.
func (v *VariableFile) Put(key uint32, blob []byte) error {
	content := v.data.ContentSize()
	if len(blob)+2 > content-varPageHeader {
		return errs.New(errs.BadArgument, "variablefile.put", nil)
	}
	max := v.data.MaxPageID()
	var p *pagestore.Page
	var err error
	if max != types.NullPageID {
		p, err = v.data.Fix(v.tx, max, pagestore.Write)
		if err != nil {
			return err
		}
		used := int(binary.LittleEndian.Uint16(p.Data()[2:]))
		if varPageHeader+used+2+len(blob) > content {
			p.Unfix(true)
			p = nil
		}
	}
	if p == nil {
		next := types.PageID(0)
		if max != types.NullPageID {
			next = max + 1
		}
		p, err = v.data.Fix(v.tx, next, pagestore.Write|pagestore.Allocate)
		if err != nil {
			return err
		}
	}
	d := p.Data()
	count := int(binary.LittleEndian.Uint16(d[0:]))
	used := int(binary.LittleEndian.Uint16(d[2:]))
	off := varPageHeader + used
	binary.LittleEndian.PutUint16(d[off:], uint16(len(blob)))
	copy(d[off+2:], blob)
	binary.LittleEndian.PutUint16(d[0:], uint16(count+1))
	binary.LittleEndian.PutUint16(d[2:], uint16(used+2+len(blob)))
	pageID := p.ID
	p.Unfix(true)
	return v.dir.Insert(key, AreaLocator{PageID: pageID, AreaID: types.AreaID(count)})
}

// Get reads the blob for key; nil when absent.
func (v *VariableFile) Get(key uint32) ([]byte, error) {
	loc, ok, err := v.dir.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	p, err := v.data.Fix(v.tx, loc.PageID, pagestore.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer p.Unfix(true)
	d := p.Data()
	count := int(binary.LittleEndian.Uint16(d[0:]))
	if int(loc.AreaID) >= count {
		return nil, errs.New(errs.Unexpected, "variablefile.get", nil)
	}
	off := varPageHeader
	for i := 0; i < int(loc.AreaID); i++ {
		l := int(binary.LittleEndian.Uint16(d[off:]))
		off += 2 + l
	}
	l := int(binary.LittleEndian.Uint16(d[off:]))
	out := make([]byte, l)
	copy(out, d[off+2:off+2+l])
	return out, nil
}

// Expunge drops the directory entry for key.
func (v *VariableFile) Expunge(key uint32) error { return v.dir.Expunge(key) }

// Directory exposes the key directory, e.g. for streaming present keys.
func (v *VariableFile) Directory() *AreaVectorFile { return v.dir }

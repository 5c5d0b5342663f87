package vectorfile

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// MultiVectorFile maps a uint32 key to a fixed-length record of several
// fields, each with its own null bit. Field sizes are fixed at create time.
type MultiVectorFile struct {
	*base
	fieldSizes   []int
	fieldOffsets []int
}

// NewMultiVectorFile wraps a page file as a multi-field vector.
func NewMultiVectorFile(f pagestore.File, fieldSizes []int) *MultiVectorFile {
	total := 0
	offsets := make([]int, len(fieldSizes))
	for i, sz := range fieldSizes {
		offsets[i] = total
		total += sz
	}
	return &MultiVectorFile{
		base:         newBase(f, total, len(fieldSizes)),
		fieldSizes:   fieldSizes,
		fieldOffsets: offsets,
	}
}

func (m *MultiVectorFile) Open(tx *trans.Transaction) error { return m.open(tx) }
func (m *MultiVectorFile) Close() error                     { return m.close() }

func (m *MultiVectorFile) field(vp *vpage, key uint32, fld int) []byte {
	rec := m.record(vp, key)
	return rec[m.fieldOffsets[fld] : m.fieldOffsets[fld]+m.fieldSizes[fld]]
}

// Insert stores a full record; values must carry one entry per field, nil
// meaning null.
func (m *MultiVectorFile) Insert(key uint32, values [][]byte) error {
	if len(values) != len(m.fieldSizes) {
		return errs.New(errs.BadArgument, "multivector.insert", nil)
	}
	if err := m.ensureHeader(); err != nil {
		return err
	}
	pid := m.pageOf(key)
	if pid > types.PageID(m.header.MaxPageID) {
		if err := m.allocateThrough(pid); err != nil {
			return err
		}
	}
	vp, err := m.fixPage(pid, false)
	if err != nil {
		return err
	}
	for fld, val := range values {
		if val == nil {
			m.setNull(vp, key, fld, true)
			continue
		}
		copy(m.field(vp, key, fld), val)
		m.setNull(vp, key, fld, false)
	}
	vp.dirty = true
	m.header.Count++
	if key > m.header.MaxKey || m.header.Count == 1 {
		m.header.MaxKey = key
	}
	m.writeHeader()
	return nil
}

// UpdateField overwrites one field; nil value sets the null bit.
func (m *MultiVectorFile) UpdateField(key uint32, fld int, value []byte) error {
	if fld < 0 || fld >= len(m.fieldSizes) {
		return errs.New(errs.BadArgument, "multivector.update", nil)
	}
	if err := m.ensureHeader(); err != nil {
		return err
	}
	pid := m.pageOf(key)
	if pid > types.PageID(m.header.MaxPageID) {
		return errKeyRange("multivector.update", key)
	}
	vp, err := m.fixPage(pid, false)
	if err != nil {
		return err
	}
	if value == nil {
		m.setNull(vp, key, fld, true)
		return nil
	}
	copy(m.field(vp, key, fld), value)
	m.setNull(vp, key, fld, false)
	vp.dirty = true
	return nil
}

// Expunge nulls every field of key's slot, refills its bytes with 0xff
// and decrements the count.
func (m *MultiVectorFile) Expunge(key uint32) error {
	if err := m.ensureHeader(); err != nil {
		return err
	}
	pid := m.pageOf(key)
	if pid > types.PageID(m.header.MaxPageID) {
		return errKeyRange("multivector.expunge", key)
	}
	vp, err := m.fixPage(pid, false)
	if err != nil {
		return err
	}
	allNull := true
	for fld := range m.fieldSizes {
		if !m.isNull(vp, key, fld) {
			allNull = false
		}
		m.setNull(vp, key, fld, true)
	}
	fill(m.record(vp, key), 0xff)
	if allNull {
		return nil
	}
	if m.header.Count > 0 {
		m.header.Count--
	}
	m.writeHeader()
	return nil
}

// GetField reads one field; a null field or unallocated key returns nil.
func (m *MultiVectorFile) GetField(key uint32, fld int) ([]byte, error) {
	if fld < 0 || fld >= len(m.fieldSizes) {
		return nil, errs.New(errs.BadArgument, "multivector.get", nil)
	}
	if err := m.ensureHeader(); err != nil {
		return nil, err
	}
	pid := m.pageOf(key)
	if pid > types.PageID(m.header.MaxPageID) {
		return nil, nil
	}
	vp, err := m.fixPage(pid, false)
	if err != nil {
		return nil, err
	}
	if m.isNull(vp, key, fld) {
		return nil, nil
	}
	out := make([]byte, m.fieldSizes[fld])
	copy(out, m.field(vp, key, fld))
	return out, nil
}

// GetUint32 reads a 4-byte field bypassing the null check. This is the
// row-id to doc-id hot path: the caller already knows the slot is live and
// an all-ones value doubles as the not-present sentinel.
func (m *MultiVectorFile) GetUint32(key uint32, fld int) (uint32, error) {
	if err := m.ensureHeader(); err != nil {
		return 0, err
	}
	pid := m.pageOf(key)
	if pid > types.PageID(m.header.MaxPageID) {
		return 0xFFFFFFFF, nil
	}
	vp, err := m.fixPage(pid, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.field(vp, key, fld)), nil
}

// FieldCount returns the number of fields per record.
func (m *MultiVectorFile) FieldCount() int { return len(m.fieldSizes) }

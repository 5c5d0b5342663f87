package vectorfile

import (
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// VectorFile maps a uint32 key to one fixed-size value with a one-bit null
// flag per slot.
type VectorFile struct {
	*base
}

// NewVectorFile wraps a page file as a single-field vector of valueSize
// byte records.
func NewVectorFile(f pagestore.File, valueSize int) *VectorFile {
	return &VectorFile{base: newBase(f, valueSize, 1)}
}

// Open binds the transaction and loads the header, initializing a fresh
// file on first open.
func (v *VectorFile) Open(tx *trans.Transaction) error { return v.open(tx) }

// Close flushes every fixed page and drops the handles.
func (v *VectorFile) Close() error { return v.close() }

// Insert stores value at key, allocating intermediate pages as needed.
func (v *VectorFile) Insert(key uint32, value []byte) error {
	if err := v.ensureHeader(); err != nil {
		return err
	}
	pid := v.pageOf(key)
	if pid > types.PageID(v.header.MaxPageID) {
		if err := v.allocateThrough(pid); err != nil {
			return err
		}
	}
	vp, err := v.fixPage(pid, false)
	if err != nil {
		return err
	}
	copy(v.record(vp, key), value)
	v.setNull(vp, key, 0, false)
	vp.dirty = true

	v.header.Count++
	if key > v.header.MaxKey || v.header.Count == 1 {
		v.header.MaxKey = key
	}
	v.writeHeader()
	return nil
}

// Update overwrites the value at key without touching the header counts.
func (v *VectorFile) Update(key uint32, value []byte) error {
	if err := v.ensureHeader(); err != nil {
		return err
	}
	pid := v.pageOf(key)
	if pid > types.PageID(v.header.MaxPageID) {
		return errKeyRange("vectorfile.update", key)
	}
	vp, err := v.fixPage(pid, false)
	if err != nil {
		return err
	}
	copy(v.record(vp, key), value)
	v.setNull(vp, key, 0, false)
	vp.dirty = true
	return nil
}

// Expunge nulls the slot at key and decrements the live count.
func (v *VectorFile) Expunge(key uint32) error {
	if err := v.ensureHeader(); err != nil {
		return err
	}
	pid := v.pageOf(key)
	if pid > types.PageID(v.header.MaxPageID) {
		return errKeyRange("vectorfile.expunge", key)
	}
	vp, err := v.fixPage(pid, false)
	if err != nil {
		return err
	}
	if v.isNull(vp, key, 0) {
		return nil
	}
	v.setNull(vp, key, 0, true)
	if v.header.Count > 0 {
		v.header.Count--
	}
	v.writeHeader()
	return nil
}

// Get reads the value at key. A key beyond the allocated extent or a null
// slot returns (nil, nil).
func (v *VectorFile) Get(key uint32) ([]byte, error) {
	if err := v.ensureHeader(); err != nil {
		return nil, err
	}
	pid := v.pageOf(key)
	if pid > types.PageID(v.header.MaxPageID) {
		return nil, nil
	}
	vp, err := v.fixPage(pid, false)
	if err != nil {
		return nil, err
	}
	if v.isNull(vp, key, 0) {
		return nil, nil
	}
	out := make([]byte, v.recordSize)
	copy(out, v.record(vp, key))
	return out, nil
}

package pagestore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// growChunkPages is how many pages the backing file grows by at a time, to
// keep remap frequency down during bulk loads.
const growChunkPages = 64

// MmapFile is the disk-backed File: one OS file, memory-mapped, grown in
// chunks. A small fixed header at the front of the file records the page
// size and the last page id, which OpenMmapFile reads back on reopen.
type MmapFile struct {
	mu          sync.Mutex
	path        string
	pageSize    int
	contentSize int
	file        *os.File
	mapping     mmap.MMap
	maxPage     types.PageID // NullPageID when empty
	mounted     bool
}

const fileHeaderSize = 16 // magic(4) pageSize(4) maxPage(4) reserved(4)

var fileMagic = [4]byte{'S', 'Y', 'P', 'S'}

// CreateMmapFile creates (or truncates) the page file at path.
func CreateMmapFile(path string, pageSize int) (*MmapFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: create %s: %w", path, err)
	}
	m := &MmapFile{
		path:        path,
		pageSize:    pageSize,
		contentSize: pageSize - PerPageOverhead,
		file:        f,
		maxPage:     types.NullPageID,
		mounted:     true,
	}
	if err := m.growTo(0); err != nil {
		f.Close()
		return nil, err
	}
	m.writeHeader()
	return m, nil
}

// OpenMmapFile opens an existing page file, reading page size and extent
// from the file header.
func OpenMmapFile(path string) (*MmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < fileHeaderSize {
		f.Close()
		return nil, errs.New(errs.LogFileCorrupted, "pagestore.open", fmt.Errorf("%s: short header", path))
	}
	mapping, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagestore: map %s: %w", path, err)
	}
	if [4]byte(mapping[0:4]) != fileMagic {
		mapping.Unmap()
		f.Close()
		return nil, errs.New(errs.LogFileCorrupted, "pagestore.open", fmt.Errorf("%s: bad magic", path))
	}
	pageSize := int(le32(mapping[4:8]))
	maxPage := types.PageID(le32(mapping[8:12]))
	m := &MmapFile{
		path:        path,
		pageSize:    pageSize,
		contentSize: pageSize - PerPageOverhead,
		file:        f,
		mapping:     mapping,
		maxPage:     maxPage,
		mounted:     true,
	}
	return m, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (m *MmapFile) writeHeader() {
	copy(m.mapping[0:4], fileMagic[:])
	putLE32(m.mapping[4:8], uint32(m.pageSize))
	putLE32(m.mapping[8:12], uint32(m.maxPage))
}

// growTo extends the backing file and remaps so that page id fits.
func (m *MmapFile) growTo(pages int) error {
	need := int64(fileHeaderSize + pages*m.pageSize)
	if m.mapping != nil && int64(len(m.mapping)) >= need {
		return nil
	}
	// Round up to the grow chunk.
	chunk := ((pages + growChunkPages) / growChunkPages) * growChunkPages
	size := int64(fileHeaderSize + chunk*m.pageSize)
	if m.mapping != nil {
		if err := m.mapping.Unmap(); err != nil {
			return err
		}
		m.mapping = nil
	}
	if err := m.file.Truncate(size); err != nil {
		return fmt.Errorf("pagestore: grow %s: %w", m.path, err)
	}
	mapping, err := mmap.Map(m.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("pagestore: remap %s: %w", m.path, err)
	}
	m.mapping = mapping
	return nil
}

// pageSlice returns the content bytes of page id within the mapping. The
// per-page overhead region leads the content.
func (m *MmapFile) pageSlice(id types.PageID) []byte {
	off := fileHeaderSize + int(id)*m.pageSize + PerPageOverhead
	return m.mapping[off : off+m.contentSize]
}

func (m *MmapFile) Fix(tx *trans.Transaction, id types.PageID, mode FixMode) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		return nil, errs.New(errs.Unexpected, "pagestore.mmap.fix", nil)
	}
	if err := checkFixArgs(id, m.maxPage, mode); err != nil {
		return nil, err
	}
	observe.AddPageFix(context.Background())

	if mode.Has(Allocate) && (m.maxPage == types.NullPageID || id > m.maxPage) {
		if err := m.growTo(int(id) + 1); err != nil {
			return nil, err
		}
		first := types.PageID(0)
		if m.maxPage != types.NullPageID {
			first = m.maxPage + 1
		}
		for pid := first; pid <= id; pid++ {
			clear(m.pageSlice(pid))
		}
		m.maxPage = id
		m.writeHeader()
	}
	buf := m.pageSlice(id)
	p := &Page{ID: id, data: buf, mode: mode, file: m}
	if mode.Has(Discardable) {
		p.prev = append([]byte(nil), buf...)
	}
	return p, nil
}

func (m *MmapFile) unfixed(p *Page, commit bool) {}

func (m *MmapFile) MaxPageID() types.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxPage
}

func (m *MmapFile) PageSize() int    { return m.pageSize }
func (m *MmapFile) ContentSize() int { return m.contentSize }

func (m *MmapFile) Sync(tx *trans.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping == nil {
		return nil
	}
	if err := m.mapping.Flush(); err != nil {
		return fmt.Errorf("pagestore: sync %s: %w", m.path, err)
	}
	return nil
}

func (m *MmapFile) Verify(tx *trans.Transaction, treatment types.Treatment, fn VerifyFunc) error {
	m.mu.Lock()
	max := m.maxPage
	m.mu.Unlock()
	if max == types.NullPageID {
		return nil
	}
	var firstErr error
	for id := types.PageID(0); id <= max; id++ {
		if tx != nil && tx.IsCanceledStatement() {
			return errs.New(errs.Canceled, "pagestore.mmap.verify", nil)
		}
		m.mu.Lock()
		buf := append([]byte(nil), m.pageSlice(id)...)
		m.mu.Unlock()
		if err := fn(id, buf); err != nil {
			if !treatment.Has(types.TreatmentContinue) {
				return errs.New(errs.VerifyAborted, "pagestore.mmap.verify", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *MmapFile) Truncate(tx *trans.Transaction, id types.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxPage == types.NullPageID || id >= m.maxPage {
		return nil
	}
	m.maxPage = id
	m.writeHeader()
	return nil
}

func (m *MmapFile) Mount(tx *trans.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = true
	return nil
}

func (m *MmapFile) Unmount(tx *trans.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = false
	return nil
}

func (m *MmapFile) Move(tx *trans.Transaction, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mapping.Flush(); err != nil {
		return err
	}
	if err := m.mapping.Unmap(); err != nil {
		return err
	}
	m.mapping = nil
	if err := m.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(m.path, newPath); err != nil {
		return fmt.Errorf("pagestore: move %s -> %s: %w", m.path, newPath, err)
	}
	f, err := os.OpenFile(newPath, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	mapping, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return err
	}
	m.path = newPath
	m.file = f
	m.mapping = mapping
	return nil
}

func (m *MmapFile) Destroy(tx *trans.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping != nil {
		m.mapping.Unmap()
		m.mapping = nil
	}
	if m.file != nil {
		m.file.Close()
		m.file = nil
	}
	m.mounted = false
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pagestore: destroy %s: %w", m.path, err)
	}
	return nil
}

func (m *MmapFile) Path() string { return m.path }

func (m *MmapFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping != nil {
		m.writeHeader()
		if err := m.mapping.Flush(); err != nil {
			return err
		}
		if err := m.mapping.Unmap(); err != nil {
			return err
		}
		m.mapping = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}
	m.mounted = false
	return nil
}

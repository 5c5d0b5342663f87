package pagestore

import (
	"context"
	"sync"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// MemoryFile is the in-memory File used by unit tests and by temporary
// databases. Committed images live in pages; the fix path always aliases
// the committed buffer, and a Discardable fix also keeps a snapshot of it
// so Unfix(false) can restore the prior image.
type MemoryFile struct {
	mu          sync.Mutex
	path        string
	pageSize    int
	contentSize int
	pages       map[types.PageID][]byte
	maxPage     types.PageID
	mounted     bool
	destroyed   bool
}

// NewMemoryFile builds an empty in-memory file with the given page size.
func NewMemoryFile(path string, pageSize int) *MemoryFile {
	return &MemoryFile{
		path:        path,
		pageSize:    pageSize,
		contentSize: pageSize - PerPageOverhead,
		pages:       make(map[types.PageID][]byte),
		maxPage:     types.NullPageID,
		mounted:     true,
	}
}

func (f *MemoryFile) Fix(tx *trans.Transaction, id types.PageID, mode FixMode) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed || !f.mounted {
		return nil, errs.New(errs.Unexpected, "pagestore.memory.fix", nil)
	}
	if err := checkFixArgs(id, f.maxPage, mode); err != nil {
		return nil, err
	}
	observe.AddPageFix(context.Background())

	if mode.Has(Allocate) {
		for f.maxPage == types.NullPageID || f.maxPage < id {
			next := types.PageID(0)
			if f.maxPage != types.NullPageID {
				next = f.maxPage + 1
			}
			f.pages[next] = make([]byte, f.contentSize)
			f.maxPage = next
		}
	}
	buf, ok := f.pages[id]
	if !ok {
		return nil, errs.New(errs.BadArgument, "pagestore.memory.fix", nil)
	}
	p := &Page{ID: id, data: buf, mode: mode, file: f}
	if mode.Has(Discardable) {
		p.prev = append([]byte(nil), buf...)
	}
	return p, nil
}

func (f *MemoryFile) unfixed(p *Page, commit bool) {}

func (f *MemoryFile) MaxPageID() types.PageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPage
}

func (f *MemoryFile) PageSize() int    { return f.pageSize }
func (f *MemoryFile) ContentSize() int { return f.contentSize }

func (f *MemoryFile) Sync(tx *trans.Transaction) error { return nil }

func (f *MemoryFile) Verify(tx *trans.Transaction, treatment types.Treatment, fn VerifyFunc) error {
	f.mu.Lock()
	max := f.maxPage
	f.mu.Unlock()
	if max == types.NullPageID {
		return nil
	}
	var firstErr error
	for id := types.PageID(0); id <= max; id++ {
		if tx != nil && tx.IsCanceledStatement() {
			return errs.New(errs.Canceled, "pagestore.memory.verify", nil)
		}
		f.mu.Lock()
		buf := f.pages[id]
		f.mu.Unlock()
		if err := fn(id, buf); err != nil {
			if !treatment.Has(types.TreatmentContinue) {
				return errs.New(errs.VerifyAborted, "pagestore.memory.verify", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (f *MemoryFile) Truncate(tx *trans.Transaction, id types.PageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxPage == types.NullPageID {
		return nil
	}
	for pid := id + 1; pid <= f.maxPage; pid++ {
		delete(f.pages, pid)
	}
	f.maxPage = id
	return nil
}

func (f *MemoryFile) Mount(tx *trans.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted = true
	return nil
}

func (f *MemoryFile) Unmount(tx *trans.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted = false
	return nil
}

func (f *MemoryFile) Move(tx *trans.Transaction, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = newPath
	return nil
}

func (f *MemoryFile) Destroy(tx *trans.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = make(map[types.PageID][]byte)
	f.maxPage = types.NullPageID
	f.destroyed = true
	return nil
}

func (f *MemoryFile) Path() string { return f.path }
func (f *MemoryFile) Close() error { return nil }

// Package mainfile is the common base for files storing paged structured
// content: it owns the physical page file, an LRU cache of detached clean
// pages, a dirty-page map, a free-list of released pages for reuse inside
// a transaction, and the verify state machine the inverted layers drive.
package mainfile

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// Priority hints where an attached page lands in the cache.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMiddle
	PriorityHigh
)

// UnfixMode records what detach should do with a page.
type UnfixMode int

const (
	// UnfixNotDirty detaches without committing.
	UnfixNotDirty UnfixMode = iota
	// UnfixDirty detaches committing the page image.
	UnfixDirty
)

// Page is one attached physical page plus its unfix mode.
type Page struct {
	ID      types.PageID
	raw     *pagestore.Page
	mode    UnfixMode
	freed   bool
	attachs int
}

// Data returns the content bytes.
func (p *Page) Data() []byte { return p.raw.Data() }

// Dirty marks the page so detach commits it.
func (p *Page) Dirty() { p.mode = UnfixDirty }

// IsDirty reports whether detach will commit.
func (p *Page) IsDirty() bool { return p.mode == UnfixDirty }

// defaultCacheCount is the LRU high-water for detached clean pages.
const defaultCacheCount = 15

// VerifyProgress accumulates verify findings across one verify pass.
type VerifyProgress struct {
	Treatment types.Treatment
	Findings  []error
	Corrected int
}

// Report records one finding; it returns VerifyAborted when the treatment
// does not allow continuing.
func (vp *VerifyProgress) Report(err error) error {
	vp.Findings = append(vp.Findings, err)
	if !vp.Treatment.Has(types.TreatmentContinue) {
		return errs.New(errs.VerifyAborted, "mainfile.verify", err)
	}
	return nil
}

// Consistent reports whether the pass finished with no findings.
func (vp *VerifyProgress) Consistent() bool { return len(vp.Findings) == 0 }

// File is the attach/detach page manager.
type File struct {
	store    pagestore.File
	tx       *trans.Transaction
	attached map[types.PageID]*Page
	cache    *lru.Cache[types.PageID, *Page]
	dirty    map[types.PageID]*Page
	freeList []types.PageID

	verifying bool
	progress  *VerifyProgress
}

// New wraps a page file. cacheCount <= 0 selects the default high-water.
func New(store pagestore.File, cacheCount int) (*File, error) {
	if cacheCount <= 0 {
		cacheCount = defaultCacheCount
	}
	f := &File{
		store:    store,
		attached: make(map[types.PageID]*Page),
		dirty:    make(map[types.PageID]*Page),
	}
	cache, err := lru.NewWithEvict(cacheCount, f.onEvict)
	if err != nil {
		return nil, err
	}
	f.cache = cache
	return f, nil
}

// onEvict releases a clean page that fell off the LRU.
func (f *File) onEvict(id types.PageID, p *Page) {
	if p.attachs > 0 || p.mode == UnfixDirty {
		return // still referenced or parked dirty; detach handles it
	}
	p.raw.Unfix(true)
}

// Open binds the transaction for this file session.
func (f *File) Open(tx *trans.Transaction) { f.tx = tx }

// Store exposes the underlying page file to sibling layers.
func (f *File) Store() pagestore.File { return f.store }

// AttachPhysicalPage fixes page id. In verify mode the page is fixed
// read-only; outside verify it is fixed writable and discardable. No
// content check runs on the page before it is handed out.
func (f *File) AttachPhysicalPage(id types.PageID, prio Priority) (*Page, error) {
	if p, ok := f.attached[id]; ok {
		p.attachs++
		observeCacheHit()
		return p, nil
	}
	if p, ok := f.dirty[id]; ok {
		delete(f.dirty, id)
		p.attachs++
		f.attached[id] = p
		observeCacheHit()
		return p, nil
	}
	if p, ok := f.cache.Get(id); ok {
		f.cache.Remove(id)
		p.attachs++
		f.attached[id] = p
		observeCacheHit()
		return p, nil
	}
	observeCacheMiss()
	mode := pagestore.Write | pagestore.Discardable
	if f.verifying {
		mode = pagestore.ReadOnly
	}
	raw, err := f.store.Fix(f.tx, id, mode)
	if err != nil {
		return nil, err
	}
	p := &Page{ID: id, raw: raw, attachs: 1}
	f.attached[id] = p
	return p, nil
}

// AllocatePhysicalPage hands out a fresh writable page: from the
// transaction-local free list when possible, otherwise by growing the file.
func (f *File) AllocatePhysicalPage() (*Page, error) {
	if n := len(f.freeList); n > 0 {
		id := f.freeList[n-1]
		f.freeList = f.freeList[:n-1]
		p, err := f.AttachPhysicalPage(id, PriorityLow)
		if err != nil {
			return nil, err
		}
		clearBytes(p.Data())
		p.Dirty()
		return p, nil
	}
	next := types.PageID(0)
	if max := f.store.MaxPageID(); max != types.NullPageID {
		next = max + 1
	}
	raw, err := f.store.Fix(f.tx, next, pagestore.Write|pagestore.Allocate|pagestore.Discardable)
	if err != nil {
		return nil, err
	}
	p := &Page{ID: next, raw: raw, attachs: 1, mode: UnfixDirty}
	f.attached[next] = p
	return p, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// FreePhysicalPage releases a page back to the transaction-local free list
// for reuse before the transaction ends.
func (f *File) FreePhysicalPage(p *Page) {
	p.freed = true
	f.freeList = append(f.freeList, p.ID)
}

// DetachPhysicalPage drops one reference. When the last reference goes, a
// dirty page commits and parks in the dirty map until FlushAllPages; a
// clean page moves to the LRU.
func (f *File) DetachPhysicalPage(p *Page) {
	if p.attachs > 0 {
		p.attachs--
	}
	if p.attachs > 0 {
		return
	}
	delete(f.attached, p.ID)
	if p.freed {
		p.raw.Unfix(true)
		return
	}
	if p.mode == UnfixDirty {
		f.dirty[p.ID] = p
		return
	}
	f.cache.Add(p.ID, p)
}

// RecoverPhysicalPage unconditionally discards the page image.
func (f *File) RecoverPhysicalPage(p *Page) {
	p.attachs = 0
	delete(f.attached, p.ID)
	p.raw.Unfix(false)
}

// FlushAllPages commits every parked dirty page and syncs the store.
func (f *File) FlushAllPages() error {
	for id, p := range f.dirty {
		p.raw.Unfix(true)
		delete(f.dirty, id)
	}
	for id, p := range f.attached {
		p.raw.Unfix(p.mode == UnfixDirty)
		delete(f.attached, id)
	}
	f.cache.Purge()
	f.freeList = nil
	return f.store.Sync(f.tx)
}

// RecoverAllPages discards every attached and parked page image.
func (f *File) RecoverAllPages() {
	for id, p := range f.dirty {
		p.raw.Unfix(false)
		delete(f.dirty, id)
	}
	for id, p := range f.attached {
		p.raw.Unfix(false)
		delete(f.attached, id)
	}
	f.cache.Purge()
	f.freeList = nil
}

// StartVerify switches attach into verify mode.
func (f *File) StartVerify(treatment types.Treatment) *VerifyProgress {
	f.verifying = true
	f.progress = &VerifyProgress{Treatment: treatment}
	return f.progress
}

// EndVerify leaves verify mode, returning the progress object.
func (f *File) EndVerify() *VerifyProgress {
	f.verifying = false
	p := f.progress
	f.progress = nil
	return p
}

// Verifying reports whether a verify pass is active.
func (f *File) Verifying() bool { return f.verifying }

// Move relocates the physical file.
func (f *File) Move(newPath string) error {
	if len(f.dirty) > 0 || len(f.attached) > 0 {
		return errs.New(errs.Unexpected, "mainfile.move",
			fmt.Errorf("pages still fixed: %d dirty, %d attached", len(f.dirty), len(f.attached)))
	}
	return f.store.Move(f.tx, newPath)
}

func observeCacheHit() {
	if observe.CacheHits != nil {
		observe.CacheHits.Add(context.Background(), 1)
	}
}

func observeCacheMiss() {
	if observe.CacheMisses != nil {
		observe.CacheMisses.Add(context.Background(), 1)
	}
}

// Package pagestore is the versioned page substrate under every Sydney
// file. A File hands out fixed-size pages by id; fixing a page with the
// Discardable flag snapshots its bytes so unfix(commit=false) restores the
// prior image, which is how the vector and inverted layers get cheap
// page-granular rollback without touching the logical log.
//
// Two implementations ship: an in-memory arena for unit tests and an
// mmap-backed file for real storage. Both satisfy File.
package pagestore

import (
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// FixMode is the bit-flag set controlling how a page is fixed.
type FixMode uint8

const (
	// ReadOnly fixes for reading; writes to the returned buffer are a bug.
	ReadOnly FixMode = 1 << iota
	// Write fixes for update.
	Write
	// Allocate extends the file through the requested page id, handing
	// back a zero-filled page.
	Allocate
	// Discardable snapshots the page image at fix time; Unfix(false)
	// restores it. Without this flag Unfix(false) keeps whatever was
	// written.
	Discardable
)

// Has reports whether all bits of flag are set.
func (m FixMode) Has(flag FixMode) bool { return m&flag == flag }

// PerPageOverhead is the page-store bookkeeping slice of every page;
// content visible to upper layers is PageSize - PerPageOverhead bytes.
const PerPageOverhead = 32

// DefaultPageSize is the page size files are created with unless the
// caller asks otherwise.
const DefaultPageSize = 8192

// Page is a fixed page handle. It is only valid between Fix and Unfix and
// must not be retained across those calls.
type Page struct {
	ID   types.PageID
	data []byte
	prev []byte // snapshot for Discardable, nil otherwise
	mode FixMode
	file File
}

// Data returns the content bytes of the page. Length is ContentSize.
func (p *Page) Data() []byte { return p.data }

// Writable reports whether the page was fixed for update.
func (p *Page) Writable() bool { return p.mode.Has(Write) || p.mode.Has(Allocate) }

// Unfix releases the page. With commit=false and a Discardable fix, the
// page bytes revert to the image captured at fix time.
func (p *Page) Unfix(commit bool) {
	if !commit && p.prev != nil {
		copy(p.data, p.prev)
	}
	p.prev = nil
	p.file.unfixed(p, commit)
}

// VerifyFunc is called per page during File.Verify with the page's content
// bytes; returning an error records one verify finding against that page.
type VerifyFunc func(id types.PageID, content []byte) error

// File is one page-managed physical file.
type File interface {
	// Fix returns a handle on page id. Allocate mode grows the file as
	// needed; other modes fail with BadArgument past the last page.
	Fix(tx *trans.Transaction, id types.PageID, mode FixMode) (*Page, error)

	// MaxPageID is the largest allocated page id, or NullPageID when the
	// file has no pages yet.
	MaxPageID() types.PageID

	PageSize() int
	ContentSize() int

	// Sync makes all committed page images durable.
	Sync(tx *trans.Transaction) error

	// Verify walks every allocated page, applying fn; treatment decides
	// whether the walk stops at the first finding.
	Verify(tx *trans.Transaction, treatment types.Treatment, fn VerifyFunc) error

	// Truncate drops pages above id, shrinking the file.
	Truncate(tx *trans.Transaction, id types.PageID) error

	Mount(tx *trans.Transaction) error
	Unmount(tx *trans.Transaction) error
	Move(tx *trans.Transaction, newPath string) error
	Destroy(tx *trans.Transaction) error

	Path() string
	Close() error

	// unfixed is the page's way back into its file; module-private.
	unfixed(p *Page, commit bool)
}

// checkFixArgs validates a fix request against the file's current extent.
func checkFixArgs(id types.PageID, maxPage types.PageID, mode FixMode) error {
	if id == types.NullPageID {
		return errs.New(errs.BadArgument, "pagestore.fix", nil)
	}
	if !mode.Has(Allocate) && (maxPage == types.NullPageID || id > maxPage) {
		return errs.New(errs.BadArgument, "pagestore.fix", nil)
	}
	return nil
}

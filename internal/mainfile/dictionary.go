package mainfile

import (
	"encoding/binary"

	"github.com/google/btree"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/types"
)

// DictEntry maps one term to the head of its posting list.
type DictEntry struct {
	Term string
	Head types.PageID
}

// Dictionary is the term index of an inverted unit: an in-memory B-tree
// over the terms, persisted as a packed sequence of entries across the
// dictionary file's pages. Loaded fully at open; Save rewrites the pages.
type Dictionary struct {
	file *File
	tree *btree.BTreeG[DictEntry]
}

func dictLess(a, b DictEntry) bool { return a.Term < b.Term }

// NewDictionary builds an empty dictionary over file.
func NewDictionary(file *File) *Dictionary {
	return &Dictionary{file: file, tree: btree.NewG(16, dictLess)}
}

// Load reads every entry from the dictionary pages.
func (d *Dictionary) Load() error {
	d.tree.Clear(false)
	max := d.file.Store().MaxPageID()
	if max == types.NullPageID {
		return nil
	}
	for pid := types.PageID(0); pid <= max; pid++ {
		p, err := d.file.AttachPhysicalPage(pid, PriorityHigh)
		if err != nil {
			return err
		}
		if err := d.loadPage(p.Data()); err != nil {
			d.file.DetachPhysicalPage(p)
			return err
		}
		d.file.DetachPhysicalPage(p)
	}
	return nil
}

// loadPage unpacks entries from one page: u16 count, then per entry
// u16 term length, term bytes, u32 head page id.
func (d *Dictionary) loadPage(data []byte) error {
	n := int(binary.LittleEndian.Uint16(data[0:]))
	off := 2
	for i := 0; i < n; i++ {
		if off+2 > len(data) {
			return errs.New(errs.Unexpected, "dictionary.load", nil)
		}
		tl := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+tl+4 > len(data) {
			return errs.New(errs.Unexpected, "dictionary.load", nil)
		}
		term := string(data[off : off+tl])
		off += tl
		head := types.PageID(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		d.tree.ReplaceOrInsert(DictEntry{Term: term, Head: head})
	}
	return nil
}

// Save rewrites the dictionary pages from the in-memory tree.
func (d *Dictionary) Save() error {
	content := d.file.Store().ContentSize()
	var pages [][]byte
	cur := make([]byte, content)
	count := 0
	off := 2
	flush := func() {
		binary.LittleEndian.PutUint16(cur[0:], uint16(count))
		pages = append(pages, cur)
		cur = make([]byte, content)
		count = 0
		off = 2
	}
	var iterErr error
	d.tree.Ascend(func(e DictEntry) bool {
		need := 2 + len(e.Term) + 4
		if off+need > content {
			if need+2 > content {
				iterErr = errs.New(errs.BadArgument, "dictionary.save", nil)
				return false
			}
			flush()
		}
		binary.LittleEndian.PutUint16(cur[off:], uint16(len(e.Term)))
		off += 2
		copy(cur[off:], e.Term)
		off += len(e.Term)
		binary.LittleEndian.PutUint32(cur[off:], uint32(e.Head))
		off += 4
		count++
		return true
	})
	if iterErr != nil {
		return iterErr
	}
	flush()

	for i, data := range pages {
		pid := types.PageID(i)
		var p *Page
		var err error
		if max := d.file.Store().MaxPageID(); max == types.NullPageID || pid > max {
			p, err = d.file.AllocatePhysicalPage()
		} else {
			p, err = d.file.AttachPhysicalPage(pid, PriorityLow)
		}
		if err != nil {
			return err
		}
		copy(p.Data(), data)
		p.Dirty()
		d.file.DetachPhysicalPage(p)
	}
	// Drop stale pages from a previous, larger save.
	if max := d.file.Store().MaxPageID(); max != types.NullPageID && int(max) >= len(pages) {
		if err := d.file.FlushAllPages(); err != nil {
			return err
		}
		return d.file.Store().Truncate(d.file.tx, types.PageID(len(pages)-1))
	}
	return nil
}

// Lookup returns the posting-list head for term.
func (d *Dictionary) Lookup(term string) (types.PageID, bool) {
	e, ok := d.tree.Get(DictEntry{Term: term})
	if !ok {
		return types.NullPageID, false
	}
	return e.Head, true
}

// Put inserts or updates the head for term.
func (d *Dictionary) Put(term string, head types.PageID) {
	d.tree.ReplaceOrInsert(DictEntry{Term: term, Head: head})
}

// Delete removes term.
func (d *Dictionary) Delete(term string) {
	d.tree.Delete(DictEntry{Term: term})
}

// Ascend walks terms in order from the first term >= from; fn returning
// false stops the walk.
func (d *Dictionary) Ascend(from string, fn func(DictEntry) bool) {
	if from == "" {
		d.tree.Ascend(fn)
		return
	}
	d.tree.AscendGreaterOrEqual(DictEntry{Term: from}, fn)
}

// Len returns the number of terms.
func (d *Dictionary) Len() int { return d.tree.Len() }

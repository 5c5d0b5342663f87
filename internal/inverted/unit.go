package inverted

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/mainfile"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// Unit is one inverted index: dictionary, leaf and overflow posting files,
// and the doc-id vector pair.
type Unit struct {
	env  *Env
	name string
	cap  Capability

	dictFile *mainfile.File
	leafFile *mainfile.File
	ovfFile  *mainfile.File
	dict     *mainfile.Dictionary
	lists    listStore
	docs     *docIDVector

	tx        *trans.Transaction
	dictDirty bool
}

// NewUnit binds a unit named name (its file prefix) inside env.
func NewUnit(env *Env, name string, cap Capability) *Unit {
	return &Unit{env: env, name: name, cap: cap}
}

// Name returns the unit's file prefix, its signature inside the index.
func (u *Unit) Name() string { return u.name }

// Cap returns the unit's stored-data capability.
func (u *Unit) Cap() Capability { return u.cap }

// Open attaches the four sub-files and loads the dictionary.
func (u *Unit) Open(tx *trans.Transaction) error {
	u.tx = tx
	df, err := u.env.File(u.name + "-dict")
	if err != nil {
		return err
	}
	lf, err := u.env.File(u.name + "-leaf")
	if err != nil {
		return err
	}
	of, err := u.env.File(u.name + "-ovf")
	if err != nil {
		return err
	}
	if u.dictFile, err = mainfile.New(df, 0); err != nil {
		return err
	}
	if u.leafFile, err = mainfile.New(lf, 0); err != nil {
		return err
	}
	if u.ovfFile, err = mainfile.New(of, 0); err != nil {
		return err
	}
	u.dictFile.Open(tx)
	u.leafFile.Open(tx)
	u.ovfFile.Open(tx)
	u.lists = listStore{leaf: u.leafFile, overflow: u.ovfFile}
	u.dict = mainfile.NewDictionary(u.dictFile)
	if err := u.dict.Load(); err != nil {
		return err
	}
	if u.docs, err = newDocIDVector(u.env, u.name); err != nil {
		return err
	}
	return u.docs.Open(tx)
}

// Close flushes everything and releases page handles.
func (u *Unit) Close() error {
	if err := u.Flush(); err != nil {
		return err
	}
	return nil
}

// Flush persists the dictionary and commits all fixed pages.
func (u *Unit) Flush() error {
	if u.dictDirty {
		if err := u.dict.Save(); err != nil {
			return err
		}
		u.dictDirty = false
	}
	if err := u.dictFile.FlushAllPages(); err != nil {
		return err
	}
	if err := u.leafFile.FlushAllPages(); err != nil {
		return err
	}
	if err := u.ovfFile.FlushAllPages(); err != nil {
		return err
	}
	return u.docs.Flush()
}

// Recover discards all uncommitted page images and reloads the dictionary.
func (u *Unit) Recover() error {
	u.dictFile.RecoverAllPages()
	u.leafFile.RecoverAllPages()
	u.ovfFile.RecoverAllPages()
	if err := u.docs.Recover(); err != nil {
		return err
	}
	u.dictDirty = false
	return u.dict.Load()
}

// groupTokens buckets token positions per term.
func groupTokens(tokens []Token) map[string][]uint32 {
	g := make(map[string][]uint32)
	for _, t := range tokens {
		g[t.Term] = append(g[t.Term], t.Pos)
	}
	return g
}

// Insert indexes one document under rowID. Section offsets given in bytes
// are rewritten in place to normalized token positions; features receives
// the document's clustering vector when non-nil.
func (u *Unit) Insert(tok Tokenizer, text string, langs []string, rowID types.RowID, sectionOffsets []uint32, features *FeatureSet) error {
	if ok, err := u.docs.Contains(rowID); err != nil {
		return err
	} else if ok {
		return errs.New(errs.BadArgument, "inverted.insert", nil)
	}
	tokens := tok.Tokenize(text, langs)
	groups := groupTokens(tokens)

	docID, err := u.docs.Assign(rowID, uint32(len(tokens)), uint32(len(text)))
	if err != nil {
		return err
	}

	terms := make([]string, 0, len(groups))
	for term := range groups {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		locs := groups[term]
		p := Posting{DocID: docID, TF: uint32(len(locs))}
		if !u.cap.NoLocation {
			p.Locations = locs
		}
		if err := u.addPosting(term, p); err != nil {
			return err
		}
	}

	normalizeSectionOffsets(sectionOffsets, len(text), len(tokens))
	if features != nil {
		*features = buildFeatureSet(groups)
	}
	return nil
}

// normalizeSectionOffsets rescales byte offsets into token positions.
func normalizeSectionOffsets(offsets []uint32, textLen, tokenCount int) {
	if textLen == 0 {
		return
	}
	for i, off := range offsets {
		offsets[i] = uint32(uint64(off) * uint64(tokenCount) / uint64(textLen))
	}
}

// addPosting appends one posting to term's list, creating it on first use.
// Postings at or below the list's high-water doc id are skipped, which is
// what makes a replayed fold harmless.
func (u *Unit) addPosting(term string, p Posting) error {
	head, ok := u.dict.Lookup(term)
	if !ok {
		data := encodePosting(nil, 0, p, u.cap)
		newHead, err := u.lists.create(data, listMeta{lastDocID: p.DocID, docCount: 1})
		if err != nil {
			return err
		}
		u.dict.Put(term, newHead)
		u.dictDirty = true
		return nil
	}
	meta, _, err := u.lists.read(head)
	if err != nil {
		return err
	}
	if p.DocID <= meta.lastDocID {
		return nil
	}
	extra := encodePosting(nil, meta.lastDocID, p, u.cap)
	newHead, err := u.lists.append(head, extra, listMeta{lastDocID: p.DocID, docCount: meta.docCount + 1})
	if err != nil {
		return err
	}
	if newHead != head {
		u.dict.Put(term, newHead)
		u.dictDirty = true
	}
	return nil
}

// FoldPostings merges an ascending run of postings into term's list; used
// by the delayed-index merge to fold a small unit's list into the big one.
func (u *Unit) FoldPostings(term string, ps []Posting) error {
	for _, p := range ps {
		if err := u.addPosting(term, p); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromList strips the given doc ids out of term's posting list,
// rewriting the chain. An empty survivor list drops the term.
func (u *Unit) RemoveFromList(term string, drop map[types.DocID]bool) error {
	head, ok := u.dict.Lookup(term)
	if !ok {
		return nil
	}
	_, data, err := u.lists.read(head)
	if err != nil {
		return err
	}
	ps, err := decodeAll(data, u.cap)
	if err != nil {
		return err
	}
	kept := ps[:0]
	for _, p := range ps {
		if !drop[p.DocID] {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(ps) {
		return nil
	}
	if len(kept) == 0 {
		if err := u.lists.free(head); err != nil {
			return err
		}
		u.dict.Delete(term)
		u.dictDirty = true
		return nil
	}
	meta := listMeta{lastDocID: kept[len(kept)-1].DocID, docCount: uint32(len(kept))}
	newHead, err := u.lists.rewrite(head, encodeAll(kept, u.cap), meta)
	if err != nil {
		return err
	}
	if newHead != head {
		u.dict.Put(term, newHead)
		u.dictDirty = true
	}
	return nil
}

// Expunge physically removes rowID's document: its postings are stripped
// from every term of the re-tokenized text and the doc-id binding dropped.
// This is the cheap path used when the row still lives in the current
// insert side.
func (u *Unit) Expunge(tok Tokenizer, text string, langs []string, rowID types.RowID) error {
	docID, err := u.docs.DocIDOf(rowID)
	if err != nil {
		return err
	}
	if docID == types.UndefinedDocID {
		return errs.New(errs.UndefinedDocumentID, "inverted.expunge", nil)
	}
	drop := map[types.DocID]bool{docID: true}
	for term := range groupTokens(tok.Tokenize(text, langs)) {
		if err := u.RemoveFromList(term, drop); err != nil {
			return err
		}
	}
	return u.docs.Expunge(rowID)
}

// PostingList returns term's decoded postings, nil when absent.
func (u *Unit) PostingList(term string) ([]Posting, error) {
	head, ok := u.dict.Lookup(term)
	if !ok {
		return nil, nil
	}
	_, data, err := u.lists.read(head)
	if err != nil {
		return nil, err
	}
	return decodeAll(data, u.cap)
}

// AscendTerms walks terms in order starting at the first term >= from.
func (u *Unit) AscendTerms(from string, fn func(term string) bool) {
	u.dict.Ascend(from, func(e mainfile.DictEntry) bool {
		return fn(e.Term)
	})
}

// Contains reports whether rowID is indexed in this unit.
func (u *Unit) Contains(rowID types.RowID) (bool, error) {
	return u.docs.Contains(rowID)
}

// TupleCount is the number of live documents.
func (u *Unit) TupleCount() uint32 { return u.docs.Count() }

// TermCount is the number of distinct terms.
func (u *Unit) TermCount() int { return u.dict.Len() }

// FileSize estimates the on-disk footprint from allocated page counts.
func (u *Unit) FileSize() int64 {
	var total int64
	for _, f := range []*mainfile.File{u.dictFile, u.leafFile, u.ovfFile} {
		if max := f.Store().MaxPageID(); max != types.NullPageID {
			total += int64(max+1) * int64(f.Store().PageSize())
		}
	}
	return total
}

// RowIDs adds every live row id to out.
func (u *Unit) RowIDs(out *roaring.Bitmap) error {
	return u.docs.ForEachRowID(func(rowID types.RowID, _ types.DocID) error {
		out.Add(uint32(rowID))
		return nil
	})
}

// DocIDOf, RowIDOf and Lengths expose the doc-id vector to the search and
// merge layers.
func (u *Unit) DocIDOf(rowID types.RowID) (types.DocID, error) { return u.docs.DocIDOf(rowID) }
func (u *Unit) RowIDOf(docID types.DocID) (types.RowID, error) { return u.docs.RowIDOf(docID) }
func (u *Unit) Lengths(rowID types.RowID) (uint32, uint32, error) {
	return u.docs.Lengths(rowID)
}

// PutDoc records a pre-assigned doc binding; the merge vector fold uses it.
func (u *Unit) PutDoc(rowID types.RowID, docID types.DocID, normLen, unnormLen uint32) error {
	return u.docs.Put(rowID, docID, normLen, unnormLen)
}

// ExpungeDoc drops rowID's doc binding without touching posting lists; the
// merge vector fold pairs it with RemoveFromList.
func (u *Unit) ExpungeDoc(rowID types.RowID) error { return u.docs.Expunge(rowID) }

// LastDocID is the unit's doc-id assignment high-water.
func (u *Unit) LastDocID() (types.DocID, error) { return u.docs.lastDocID() }

// ForEachDoc visits live docs in doc-id order.
func (u *Unit) ForEachDoc(fn func(docID types.DocID, rowID types.RowID) error) error {
	return u.docs.ForEachDocID(fn)
}

// Clear empties the unit, keeping its allocated file space.
func (u *Unit) Clear() error {
	// Rebuild an empty dictionary and truncate the posting files.
	u.dict = mainfile.NewDictionary(u.dictFile)
	u.dictDirty = true
	if err := u.dict.Save(); err != nil {
		return err
	}
	u.dictDirty = false
	if err := u.leafFile.FlushAllPages(); err != nil {
		return err
	}
	if err := u.ovfFile.FlushAllPages(); err != nil {
		return err
	}
	if err := u.leafFile.Store().Truncate(u.tx, 0); err != nil {
		return err
	}
	if err := u.ovfFile.Store().Truncate(u.tx, 0); err != nil {
		return err
	}
	return u.docs.Clear()
}

// Verify checks posting-list doc ids against the doc-id vector. Each list
// iteration polls for cancellation.
func (u *Unit) Verify(tx *trans.Transaction, progress *mainfile.VerifyProgress) error {
	var verr error
	u.dict.Ascend("", func(e mainfile.DictEntry) bool {
		if tx.IsCanceledStatement() {
			verr = errs.New(errs.Canceled, "inverted.verify", nil)
			return false
		}
		ps, err := u.PostingList(e.Term)
		if err != nil {
			verr = err
			return false
		}
		prev := types.DocID(0)
		for _, p := range ps {
			if p.DocID <= prev && prev != 0 {
				if err := progress.Report(errs.New(errs.Unexpected, "inverted.verify", nil)); err != nil {
					verr = err
					return false
				}
			}
			prev = p.DocID
			rowID, err := u.docs.RowIDOf(p.DocID)
			if err != nil {
				verr = err
				return false
			}
			if rowID == types.UndefinedRowID {
				if err := progress.Report(errs.New(errs.InaccurateRowid, "inverted.verify", nil)); err != nil {
					verr = err
					return false
				}
			}
		}
		return true
	})
	return verr
}

package delayindex

import (
	"context"
	"time"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/types"
)

// rebuildDocMap derives the small-to-big doc-id mapping for the merge
// insert side. Ids are assigned in small-doc-id order starting above the
// merge-base captured at flip time, so a crashed merge rebuilds the exact
// same mapping.
func (f *File) rebuildDocMap() error {
	base := f.info.MergeBase()
	m := make(map[types.SmallDocID]types.DocID)
	next := base + 1
	err := f.mergeInsert().ForEachDoc(func(docID types.DocID, _ types.RowID) error {
		m[types.SmallDocID(docID)] = next
		next++
		return nil
	})
	if err != nil {
		return err
	}
	f.docMap = m
	return nil
}

// translateRef resolves a pending deletion to its final big doc id. A
// deletion aimed at the merge insert side lands on the id that side's
// document receives when folded.
func (f *File) translateRef(ref inverted.BigDocRef) (types.DocID, bool) {
	if ref.Unit == unitMergeInsert {
		id, ok := f.docMap[types.SmallDocID(ref.DocID)]
		return id, ok
	}
	return ref.DocID, true
}

// OpenForMerge flips the active bank and enters ListMerging. The flip and
// the merge-base capture are one page commit; writers blocked on the latch
// target the new current side as soon as it returns.
func (f *File) OpenForMerge() error {
	f.latch.Lock()
	defer f.latch.Unlock()
	if f.info.Proceeding() != types.ProceedingIdle {
		return errs.New(errs.BadArgument, "delayindex.openformerge", nil)
	}
	// Everything written so far must be durable before the flip commits.
	if err := f.flushLocked(); err != nil {
		return err
	}
	base, err := f.big.LastDocID()
	if err != nil {
		return err
	}
	// The units about to become the merge bank are the current ones.
	insertDone := f.currentInsert().TermCount() == 0
	expungeDone := f.currentDelete().TermCount() == 0
	if err := f.info.Flip(base, insertDone, expungeDone); err != nil {
		return err
	}
	return f.rebuildDocMap()
}

// CloseForMerge releases the merge session state. Closing a merge that
// never folded anything aborts it outright, toggling the bit back, so an
// open/close pair with no work between is a no-op on the info file.
func (f *File) CloseForMerge() error {
	f.latch.Lock()
	defer f.latch.Unlock()
	f.docMap = nil
	if f.info.Proceeding() == types.ProceedingListMerging {
		insKey, expKey, _, _ := f.info.Cursors()
		if insKey == "" && expKey == "" {
			return f.info.Unflip()
		}
	}
	return nil
}

// nextTerm finds the first term >= from in u; ok is false when exhausted.
func nextTerm(u *inverted.Unit, from string) (string, bool) {
	var term string
	found := false
	u.AscendTerms(from, func(t string) bool {
		term = t
		found = true
		return false
	})
	return term, found
}

// MergeList folds one posting list from a merge-side small unit into the
// big unit and persists the advanced cursor. It returns true while work
// remains. Replaying a fold is harmless: insert folds skip doc ids at or
// below the big list's high-water and delete folds are pure removals.
func (f *File) MergeList(tx cancelable) (bool, error) {
	f.latch.Lock()
	defer f.latch.Unlock()

	if f.info.Proceeding() != types.ProceedingListMerging {
		return false, nil
	}
	if tx != nil && tx.IsCanceledStatement() {
		return false, errs.New(errs.Canceled, "delayindex.mergelist", nil)
	}

	insKey, expKey, insDone, expDone := f.info.Cursors()
	if insDone && expDone {
		return false, nil
	}

	var insTerm, expTerm string
	var insOK, expOK bool
	if !insDone {
		insTerm, insOK = nextTerm(f.mergeInsert(), insKey)
		if !insOK {
			insDone = true
		}
	}
	if !expDone {
		expTerm, expOK = nextTerm(f.mergeDelete().Unit, expKey)
		if !expOK {
			expDone = true
		}
	}
	if !insOK && !expOK {
		if err := f.info.SetCursors(insKey, expKey, true, true); err != nil {
			return false, err
		}
		return false, nil
	}

	// Fold the side with the smaller key next, the insert side on ties.
	foldInsert := insOK && (!expOK || insTerm <= expTerm)
	if foldInsert {
		if err := f.foldInsertList(insTerm); err != nil {
			return false, err
		}
		insKey = insTerm + "\x00"
	} else {
		if err := f.foldExpungeList(expTerm); err != nil {
			return false, err
		}
		expKey = expTerm + "\x00"
	}
	if err := f.big.Flush(); err != nil {
		return false, err
	}
	if err := f.info.SetCursors(insKey, expKey, insDone, expDone); err != nil {
		return false, err
	}
	observeListFolded()
	return !(insDone && expDone), nil
}

// cancelable is the slice of the transaction surface the merge polls.
type cancelable interface{ IsCanceledStatement() bool }

func (f *File) foldInsertList(term string) error {
	ps, err := f.mergeInsert().PostingList(term)
	if err != nil {
		return err
	}
	translated := make([]inverted.Posting, 0, len(ps))
	for _, p := range ps {
		big, ok := f.docMap[types.SmallDocID(p.DocID)]
		if !ok {
			return errs.New(errs.UndefinedDocumentID, "delayindex.foldinsert", nil)
		}
		q := p
		q.DocID = big
		translated = append(translated, q)
	}
	return f.big.FoldPostings(term, translated)
}

func (f *File) foldExpungeList(term string) error {
	ps, err := f.mergeDelete().PostingList(term)
	if err != nil {
		return err
	}
	drop := make(map[types.DocID]bool, len(ps))
	for _, p := range ps {
		ref, err := f.mergeDelete().ConvertToBigDocumentID(types.SmallDocID(p.DocID))
		if err != nil {
			return err
		}
		if big, ok := f.translateRef(ref); ok {
			drop[big] = true
		}
	}
	return f.big.RemoveFromList(term, drop)
}

// MergeVector finishes the merge: fold the doc-id vectors into the big
// unit, advance to VectorMerging, clear both merge-side units, and return
// to Idle. Each transition is persisted, and every step tolerates replay.
func (f *File) MergeVector() error {
	f.latch.Lock()
	defer f.latch.Unlock()

	switch f.info.Proceeding() {
	case types.ProceedingListMerging:
		if err := f.foldVectors(); err != nil {
			return err
		}
		if err := f.big.Flush(); err != nil {
			return err
		}
		if err := f.info.SetProceeding(types.ProceedingVectorMerging); err != nil {
			return err
		}
		fallthrough
	case types.ProceedingVectorMerging:
		if err := f.mergeInsert().Clear(); err != nil {
			return err
		}
		if err := f.mergeInsert().Flush(); err != nil {
			return err
		}
		if err := f.mergeDelete().Clear(); err != nil {
			return err
		}
		if err := f.mergeDelete().Flush(); err != nil {
			return err
		}
		f.docMap = nil
		return f.info.SetProceeding(types.ProceedingIdle)
	default:
		return nil
	}
}

// foldVectors applies the merge bank's document arrivals and departures to
// the big doc-id vector. Insert folds are skipped when the binding already
// exists (replay); delete folds are no-ops on missing rows.
func (f *File) foldVectors() error {
	mi := f.mergeInsert()
	err := mi.ForEachDoc(func(small types.DocID, rowID types.RowID) error {
		mapped, ok := f.docMap[types.SmallDocID(small)]
		if !ok {
			return errs.New(errs.UndefinedDocumentID, "delayindex.foldvectors", nil)
		}
		existing, err := f.big.DocIDOf(rowID)
		if err != nil {
			return err
		}
		if existing == mapped {
			return nil
		}
		normLen, unnormLen, err := mi.Lengths(rowID)
		if err != nil {
			return err
		}
		return f.big.PutDoc(rowID, mapped, normLen, unnormLen)
	})
	if err != nil {
		return err
	}
	return f.mergeDelete().ForEachDoc(func(small types.DocID, rowID types.RowID) error {
		if err := f.big.ExpungeDoc(rowID); err != nil {
			return err
		}
		if f.feat != nil {
			return f.feat.Expunge(uint32(rowID))
		}
		return nil
	})
}

// RunMerge drives a complete merge synchronously: flip, fold every list,
// fold the vectors. tx may be nil; when given, cancellation is polled per
// posting list.
func (f *File) RunMerge(tx cancelable) error {
	start := time.Now()
	if err := f.OpenForMerge(); err != nil {
		return err
	}
	for {
		more, err := f.MergeList(tx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := f.MergeVector(); err != nil {
		return err
	}
	if err := f.CloseForMerge(); err != nil {
		return err
	}
	observeMergeDuration(time.Since(start))
	return nil
}

// ResumeMerge finishes a merge found in progress at open time.
func (f *File) ResumeMerge(tx cancelable) error {
	switch f.info.Proceeding() {
	case types.ProceedingIdle:
		return nil
	case types.ProceedingListMerging:
		for {
			more, err := f.MergeList(tx)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		return f.MergeVector()
	case types.ProceedingVectorMerging:
		return f.MergeVector()
	}
	return errs.New(errs.Unexpected, "delayindex.resume", nil)
}

func observeListFolded() {
	if observe.MergeListsFolded != nil {
		observe.MergeListsFolded.Add(context.Background(), 1)
	}
}

func observeMergeDuration(d time.Duration) {
	if observe.MergeDuration != nil {
		observe.MergeDuration.Record(context.Background(), d.Seconds())
	}
}

package capsule

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/types"
)

// unitResult is one sub-unit's retrieval output before fusion: doc ids in
// the unit's own id space, with scores for ranked retrieval.
type unitResult struct {
	unit   *inverted.Unit
	docs   *roaring.Bitmap
	scores map[types.DocID]float64
}

// booleanRetrieve evaluates the tree against one unit, masking out the
// expunged-doc filter. upperBound, when non-zero, drops doc ids above it;
// the merge protocol uses it to hide half-folded arrivals.
func booleanRetrieve(u *inverted.Unit, n Node, filter *roaring.Bitmap, upperBound types.DocID) (*roaring.Bitmap, error) {
	docs, err := evalNode(u, n)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		docs.AndNot(filter)
	}
	if upperBound != 0 {
		docs.RemoveRange(uint64(upperBound)+1, uint64(types.UndefinedDocID))
	}
	return docs, nil
}

// universe is every live doc id of the unit, the complement base for NOT.
func universe(u *inverted.Unit) (*roaring.Bitmap, error) {
	all := roaring.New()
	err := u.ForEachDoc(func(docID types.DocID, _ types.RowID) error {
		all.Add(uint32(docID))
		return nil
	})
	return all, err
}

func evalNode(u *inverted.Unit, n Node) (*roaring.Bitmap, error) {
	switch v := n.(type) {
	case *TermNode:
		return termDocs(u, v.Term)
	case *PhraseNode:
		return phraseDocs(u, v.Words)
	case *AndNode:
		l, err := evalNode(u, v.Left)
		if err != nil {
			return nil, err
		}
		// AND NOT x intersects with the complement without materializing
		// the universe.
		if not, ok := v.Right.(*NotNode); ok {
			r, err := evalNode(u, not.Expr)
			if err != nil {
				return nil, err
			}
			l.AndNot(r)
			return l, nil
		}
		r, err := evalNode(u, v.Right)
		if err != nil {
			return nil, err
		}
		l.And(r)
		return l, nil
	case *OrNode:
		l, err := evalNode(u, v.Left)
		if err != nil {
			return nil, err
		}
		r, err := evalNode(u, v.Right)
		if err != nil {
			return nil, err
		}
		l.Or(r)
		return l, nil
	case *NotNode:
		all, err := universe(u)
		if err != nil {
			return nil, err
		}
		sub, err := evalNode(u, v.Expr)
		if err != nil {
			return nil, err
		}
		all.AndNot(sub)
		return all, nil
	default:
		return roaring.New(), nil
	}
}

func termDocs(u *inverted.Unit, term string) (*roaring.Bitmap, error) {
	ps, err := u.PostingList(term)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	for _, p := range ps {
		out.Add(uint32(p.DocID))
	}
	return out, nil
}

// phraseDocs verifies word adjacency through stored locations. Units
// without locations degrade to the conjunction of the words.
func phraseDocs(u *inverted.Unit, words []string) (*roaring.Bitmap, error) {
	if len(words) == 0 {
		return roaring.New(), nil
	}
	lists := make([]map[types.DocID][]uint32, len(words))
	candidates := roaring.New()
	for i, w := range words {
		ps, err := u.PostingList(w)
		if err != nil {
			return nil, err
		}
		m := make(map[types.DocID][]uint32, len(ps))
		b := roaring.New()
		for _, p := range ps {
			m[p.DocID] = p.Locations
			b.Add(uint32(p.DocID))
		}
		lists[i] = m
		if i == 0 {
			candidates = b
		} else {
			candidates.And(b)
		}
	}
	if u.Cap().NoLocation {
		return candidates, nil
	}
	out := roaring.New()
	it := candidates.Iterator()
	for it.HasNext() {
		docID := types.DocID(it.Next())
		if phraseAt(lists, docID) {
			out.Add(uint32(docID))
		}
	}
	return out, nil
}

// phraseAt checks whether some position sequence p, p+1, ... p+n-1 exists.
func phraseAt(lists []map[types.DocID][]uint32, docID types.DocID) bool {
	for _, start := range lists[0][docID] {
		ok := true
		for i := 1; i < len(lists); i++ {
			if !containsPos(lists[i][docID], start+uint32(i)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func containsPos(sorted []uint32, want uint32) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case sorted[mid] == want:
			return true
		case sorted[mid] < want:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// rankedRetrieve scores the boolean matches of the tree by summed,
// length-normalized tf-idf over the tree's positive terms.
func rankedRetrieve(u *inverted.Unit, n Node, filter *roaring.Bitmap, upperBound types.DocID) (*unitResult, error) {
	docs, err := booleanRetrieve(u, n, filter, upperBound)
	if err != nil {
		return nil, err
	}
	res := &unitResult{unit: u, docs: docs, scores: make(map[types.DocID]float64)}
	total := float64(u.TupleCount())
	if total == 0 || docs.IsEmpty() {
		return res, nil
	}
	for _, term := range Terms(n) {
		ps, err := u.PostingList(term)
		if err != nil {
			return nil, err
		}
		if len(ps) == 0 {
			continue
		}
		idf := math.Log(1 + total/float64(len(ps)))
		for _, p := range ps {
			if !docs.Contains(uint32(p.DocID)) {
				continue
			}
			tf := float64(p.TF)
			if tf == 0 {
				tf = 1
			}
			rowID, err := u.RowIDOf(p.DocID)
			if err != nil {
				return nil, err
			}
			norm := 1.0
			if rowID != types.UndefinedRowID {
				if docLen, _, err := u.Lengths(rowID); err == nil && docLen > 0 {
					norm = float64(docLen)
				}
			}
			res.scores[p.DocID] += (tf / norm) * idf
		}
	}
	return res, nil
}

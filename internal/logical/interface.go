package logical

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/capsule"
	"github.com/DoqueDB/sydney/internal/delayindex"
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/types"
)

// DataArray is one typed tuple crossing the logical surface. Field order
// on insert: row id, document text, languages, section offsets.
type DataArray struct {
	RowID          types.RowID
	Document       string
	Languages      []string
	SectionOffsets []uint32
}

// ProjectionPath names how a get() resolves.
type ProjectionPath int

const (
	// PathBitset streams matching row ids as a bitmap.
	PathBitset ProjectionPath = iota
	// PathSearchResult returns scored rows.
	PathSearchResult
	// PathWord returns per-term statistics.
	PathWord
	// PathLength returns per-document length statistics.
	PathLength
	// PathSearchByBitSet intersects a caller-provided bitmap.
	PathSearchByBitSet
)

// OpenOption carries a query's projection, ordering and limits.
type OpenOption struct {
	Mask    *FieldMask
	Sort    types.SortOrder
	Limit   int
	Cluster bool
	// ByBitSet, when non-nil, restricts results to these row ids.
	ByBitSet *roaring.Bitmap
	// KwicSize is the requested excerpt window in characters; 0 disables.
	KwicSize int
}

// Path resolves which retrieval path the option's projection uses.
func (o *OpenOption) Path() ProjectionPath {
	switch o.Mask.Group() {
	case "word":
		return PathWord
	case "length":
		return PathLength
	}
	if o.ByBitSet != nil {
		return PathSearchByBitSet
	}
	if len(o.Mask.Fields()) == 1 && o.Mask.Has(FieldRowID) {
		return PathBitset
	}
	return PathSearchResult
}

// Interface is the typed surface over one delayed index.
type Interface struct {
	idx *delayindex.File
}

// New binds the surface to an index group.
func New(idx *delayindex.File) *Interface { return &Interface{idx: idx} }

// Index exposes the underlying group.
func (li *Interface) Index() *delayindex.File { return li.idx }

// Insert indexes one tuple. The tuple's section offsets are rewritten in
// place to normalized positions, mirroring what the engine stores.
func (li *Interface) Insert(tuple *DataArray) error {
	if tuple == nil || tuple.RowID == types.UndefinedRowID {
		return errs.New(errs.BadArgument, "logical.insert", nil)
	}
	return li.idx.Insert(tuple.RowID, tuple.Document, tuple.Languages, tuple.SectionOffsets, nil)
}

// Expunge removes one tuple, re-presenting the original document so the
// delete side can index it.
func (li *Interface) Expunge(tuple *DataArray) error {
	if tuple == nil || tuple.RowID == types.UndefinedRowID {
		return errs.New(errs.BadArgument, "logical.expunge", nil)
	}
	return li.idx.Expunge(tuple.RowID, tuple.Document, tuple.Languages)
}

// Update replaces a tuple's document: expunge then insert under the same
// row id.
func (li *Interface) Update(old, new *DataArray) error {
	if old == nil || new == nil || old.RowID != new.RowID {
		return errs.New(errs.BadArgument, "logical.update", nil)
	}
	if err := li.Expunge(old); err != nil {
		return err
	}
	return li.idx.Insert(new.RowID, new.Document, new.Languages, new.SectionOffsets, nil)
}

// GetResult is the union shape the projection paths return.
type GetResult struct {
	Bitset    *roaring.Bitmap
	Rows      []capsule.ScoredRow
	Clusters  []int
	TermStats []capsule.TermStat
	Lengths   *LengthStats
}

// LengthStats is the length-group projection output.
type LengthStats struct {
	Count             uint32
	AverageLength     float64
	AverageCharLength float64
}

// Get runs a query under the option's projection path.
func (li *Interface) Get(query string, opt *OpenOption) (*GetResult, error) {
	c, err := capsule.NewParsed(li.idx, query)
	if err != nil {
		return nil, err
	}
	if opt.Cluster {
		c.EnableClustering(capsule.DefaultClusterParams())
	}
	switch opt.Path() {
	case PathWord:
		stats, err := c.ExecuteWordList()
		if err != nil {
			return nil, err
		}
		return &GetResult{TermStats: stats}, nil

	case PathLength:
		stats, err := li.lengthStats()
		if err != nil {
			return nil, err
		}
		return &GetResult{Lengths: stats}, nil

	case PathBitset:
		_, rows, _, err := c.Execute(opt.Limit, opt.Sort)
		if err != nil {
			return nil, err
		}
		out := roaring.New()
		for _, r := range rows {
			out.Add(uint32(r.RowID))
		}
		return &GetResult{Bitset: out}, nil

	case PathSearchByBitSet:
		_, rows, _, err := c.Execute(0, opt.Sort)
		if err != nil {
			return nil, err
		}
		kept := rows[:0]
		for _, r := range rows {
			if opt.ByBitSet.Contains(uint32(r.RowID)) {
				kept = append(kept, r)
			}
		}
		if opt.Limit > 0 && len(kept) > opt.Limit {
			kept = kept[:opt.Limit]
		}
		return &GetResult{Rows: kept}, nil

	default:
		_, rows, clusters, err := c.Execute(opt.Limit, opt.Sort)
		if err != nil {
			return nil, err
		}
		return &GetResult{Rows: rows, Clusters: clusters}, nil
	}
}

// lengthStats aggregates document lengths across the visible units.
func (li *Interface) lengthStats() (*LengthStats, error) {
	big, insMerge, insCur, _, _ := li.idx.Units()
	var count uint32
	var sumNorm, sumChar uint64
	for _, u := range []*inverted.Unit{big, insMerge, insCur} {
		err := u.ForEachDoc(func(_ types.DocID, rowID types.RowID) error {
			n, c, err := u.Lengths(rowID)
			if err != nil {
				return err
			}
			count++
			sumNorm += uint64(n)
			sumChar += uint64(c)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	stats := &LengthStats{Count: count}
	if count > 0 {
		stats.AverageLength = float64(sumNorm) / float64(count)
		stats.AverageCharLength = float64(sumChar) / float64(count)
	}
	return stats, nil
}

// KwicOffset adjusts a normalized hit position back into character space
// for a KWIC excerpt of kwicSize characters: the stored position scales by
// the document's unnormalized-to-normalized length ratio, then clamps so
// the window stays inside the document.
func (li *Interface) KwicOffset(rowID types.RowID, normPos uint32, kwicSize int) (uint32, error) {
	big, insMerge, insCur, _, _ := li.idx.Units()
	for _, u := range []*inverted.Unit{insCur, insMerge, big} {
		ok, err := u.Contains(rowID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		normLen, charLen, err := u.Lengths(rowID)
		if err != nil {
			return 0, err
		}
		if normLen == 0 {
			return 0, nil
		}
		off := uint32(uint64(normPos) * uint64(charLen) / uint64(normLen))
		if kwicSize > 0 && charLen > uint32(kwicSize) && off > charLen-uint32(kwicSize) {
			off = charLen - uint32(kwicSize)
		}
		return off, nil
	}
	return 0, errs.New(errs.UndefinedDocumentID, "logical.kwic",
		fmt.Errorf("rowid %d", rowID))
}

package capsule

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/delayindex"
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/types"
)

// UnitSignature names one sub-unit of the group for signature execution.
type UnitSignature int

const (
	SigBig UnitSignature = iota
	SigInsertMerge
	SigInsertCurrent
	SigDeleteMerge
	SigDeleteCurrent
)

// Capsule is one query's bundle: the compiled tree, the per-unit expunged
// filters (computed once at build time and fixed for the capsule's life),
// the clustering configuration and the result buffer.
type Capsule struct {
	idx  *delayindex.File
	tree Node

	clusterOn bool
	params    ClusterParams

	// filters, built once: doc ids already deleted, per insert-side unit.
	bigFilter      *roaring.Bitmap
	insMergeFilter *roaring.Bitmap

	lastRows     []ScoredRow
	lastClusters []int
}

// New builds a capsule over a compiled query tree.
func New(idx *delayindex.File, tree Node) (*Capsule, error) {
	c := &Capsule{idx: idx, tree: tree, params: DefaultClusterParams()}
	if err := c.buildFilters(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFreeText extracts a term pool from raw text and lowers it under mode.
func NewFreeText(idx *delayindex.File, text string, langs []string, mode MatchMode) (*Capsule, error) {
	pool := PoolFromFreeText(text, langs, idx.Tokenizer())
	return New(idx, pool.Tree(mode))
}

// NewWordList builds a capsule from an explicit word list.
func NewWordList(idx *delayindex.File, words []string, mode MatchMode) (*Capsule, error) {
	pool := PoolFromWordList(words)
	return New(idx, pool.Tree(mode))
}

// NewParsed compiles query syntax and builds a capsule.
func NewParsed(idx *delayindex.File, query string) (*Capsule, error) {
	tree, err := Parse(query)
	if err != nil {
		return nil, errs.New(errs.BadArgument, "capsule.parse", err)
	}
	return New(idx, tree)
}

// EnableClustering turns on result clustering with the given parameters.
func (c *Capsule) EnableClustering(p ClusterParams) {
	c.clusterOn = true
	c.params = p
}

// buildFilters computes the expunged-doc filter per insert-side unit:
// pending deletions aimed at the big unit mask big doc ids; deletions
// aimed at the merge insert side mask that side's doc ids. The current
// insert side needs no filter since its deletions are applied directly.
func (c *Capsule) buildFilters() error {
	c.bigFilter = roaring.New()
	c.insMergeFilter = roaring.New()
	_, _, _, delMerge, delCur := c.idx.Units()
	for _, d := range []*inverted.ExpungeUnit{delMerge, delCur} {
		err := d.IDs().GetAllRefs(func(_ types.SmallDocID, ref inverted.BigDocRef) error {
			if ref.Unit == 0 {
				c.bigFilter.Add(uint32(ref.DocID))
			} else {
				c.insMergeFilter.Add(uint32(ref.DocID))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Execute runs ranked retrieval over the three insert-bearing units and
// fuses the results. It returns the positive term count, the fused rows
// and, when clustering is enabled, the cluster id list parallel to them.
func (c *Capsule) Execute(limit int, sortOrder types.SortOrder) (int, []ScoredRow, []int, error) {
	if c.tree == nil {
		return 0, nil, nil, nil
	}
	big, insMerge, insCur, _, _ := c.idx.Units()

	results := make([]*unitResult, 0, 3)
	for _, t := range []struct {
		u      *inverted.Unit
		filter *roaring.Bitmap
	}{
		{big, c.bigFilter},
		{insMerge, c.insMergeFilter},
		{insCur, nil},
	} {
		r, err := rankedRetrieve(t.u, c.tree, t.filter, 0)
		if err != nil {
			return 0, nil, nil, err
		}
		results = append(results, r)
	}

	rows, err := compose(results, sortOrder, limitForCompose(limit, c.clusterOn))
	if err != nil {
		return 0, nil, nil, err
	}

	nTerm := len(Terms(c.tree))
	if !c.clusterOn || len(rows) == 0 {
		c.lastRows, c.lastClusters = rows, nil
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		return nTerm, rows, nil, nil
	}

	rows, clusters, err := Clusterize(rows, c.idx.Features, c.params)
	if err != nil {
		return 0, nil, nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		clusters = clusters[:limit]
	}
	c.lastRows, c.lastClusters = rows, clusters
	return nTerm, rows, clusters, nil
}

// limitForCompose keeps the full ordering when clustering needs to see the
// whole result before the limit applies.
func limitForCompose(limit int, clustering bool) int {
	if clustering {
		return 0
	}
	return limit
}

// ExecuteSignature enumerates every row id of exactly one sub-unit, the
// path verify and clustering preparation use.
func (c *Capsule) ExecuteSignature(sig UnitSignature) (*roaring.Bitmap, error) {
	big, insMerge, insCur, delMerge, delCur := c.idx.Units()
	out := roaring.New()
	var err error
	switch sig {
	case SigBig:
		err = big.RowIDs(out)
	case SigInsertMerge:
		err = insMerge.RowIDs(out)
	case SigInsertCurrent:
		err = insCur.RowIDs(out)
	case SigDeleteMerge:
		err = delMerge.RowIDs(out)
	case SigDeleteCurrent:
		err = delCur.RowIDs(out)
	default:
		return nil, errs.New(errs.BadArgument, "capsule.signature", nil)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TermStat is one entry of the word-list retrieval surface.
type TermStat struct {
	Term     string
	DocCount uint64
}

// ExecuteWordList returns per-term document counts across the three
// insert-bearing units, for ranked word retrieval.
func (c *Capsule) ExecuteWordList() ([]TermStat, error) {
	if c.tree == nil {
		return nil, nil
	}
	big, insMerge, insCur, _, _ := c.idx.Units()
	var out []TermStat
	seen := make(map[string]bool)
	for _, term := range Terms(c.tree) {
		if seen[term] {
			continue
		}
		seen[term] = true
		var count uint64
		for _, t := range []struct {
			u      *inverted.Unit
			filter *roaring.Bitmap
		}{
			{big, c.bigFilter},
			{insMerge, c.insMergeFilter},
			{insCur, nil},
		} {
			docs, err := termDocs(t.u, term)
			if err != nil {
				return nil, err
			}
			if t.filter != nil {
				docs.AndNot(t.filter)
			}
			count += docs.GetCardinality()
		}
		out = append(out, TermStat{Term: term, DocCount: count})
	}
	return out, nil
}

// GetEstimateCount returns an upper bound on the result size: the summed
// boolean match counts of the three units, without row-id fusion.
func (c *Capsule) GetEstimateCount() (uint64, error) {
	if c.tree == nil {
		return 0, nil
	}
	big, insMerge, insCur, _, _ := c.idx.Units()
	var total uint64
	for _, t := range []struct {
		u      *inverted.Unit
		filter *roaring.Bitmap
	}{
		{big, c.bigFilter},
		{insMerge, c.insMergeFilter},
		{insCur, nil},
	} {
		docs, err := booleanRetrieve(t.u, c.tree, t.filter, 0)
		if err != nil {
			return 0, err
		}
		total += docs.GetCardinality()
	}
	return total, nil
}

// GetSearchTermList returns the positive terms of the compiled query.
func (c *Capsule) GetSearchTermList() []string {
	if c.tree == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, t := range Terms(c.tree) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// GetCluster returns the rows of one cluster from the last Execute.
func (c *Capsule) GetCluster(clusterID int) []ScoredRow {
	var out []ScoredRow
	for _, r := range c.lastRows {
		if r.ClusterID == clusterID {
			out = append(out, r)
		}
	}
	return out
}

package capsule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/delayindex"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func newIndex(t *testing.T, features bool) *delayindex.File {
	t.Helper()
	cfg := delayindex.Config{Cap: inverted.Capability{WordIndex: true}, StoreFeatures: features}
	f, err := delayindex.Open(inverted.NewMemEnv(), cfg, trans.New())
	require.NoError(t, err)
	return f
}

func rowIDs(rows []ScoredRow) []types.RowID {
	out := make([]types.RowID, len(rows))
	for i, r := range rows {
		out[i] = r.RowID
	}
	return out
}

func TestParsePrecedenceAndPhrases(t *testing.T) {
	n, err := Parse(`(apple OR pear) AND NOT "apple pie"`)
	require.NoError(t, err)
	and, ok := n.(*AndNode)
	require.True(t, ok)
	_, ok = and.Left.(*OrNode)
	assert.True(t, ok)
	not, ok := and.Right.(*NotNode)
	require.True(t, ok)
	phrase, ok := not.Expr.(*PhraseNode)
	require.True(t, ok)
	assert.Equal(t, []string{"apple", "pie"}, phrase.Words)

	_, err = Parse("apple AND (pear")
	assert.Error(t, err)
}

func TestBooleanSearchAcrossUnits(t *testing.T) {
	idx := newIndex(t, false)
	// Rows 1-2 merged into big, row 3 still in the current insert side.
	require.NoError(t, idx.Insert(1, "apple pie recipe", nil, nil, nil))
	require.NoError(t, idx.Insert(2, "pear tart", nil, nil, nil))
	require.NoError(t, idx.RunMerge(nil))
	require.NoError(t, idx.Insert(3, "apple crumble", nil, nil, nil))

	c, err := NewParsed(idx, "apple")
	require.NoError(t, err)
	_, rows, _, err := c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{1, 3}, rowIDs(rows))

	c, err = NewParsed(idx, "apple AND NOT crumble")
	require.NoError(t, err)
	_, rows, _, err = c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{1}, rowIDs(rows))
}

func TestPhraseSearchUsesLocations(t *testing.T) {
	idx := newIndex(t, false)
	require.NoError(t, idx.Insert(1, "apple pie", nil, nil, nil))
	require.NoError(t, idx.Insert(2, "pie apple", nil, nil, nil))

	c, err := NewParsed(idx, `"apple pie"`)
	require.NoError(t, err)
	_, rows, _, err := c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{1}, rowIDs(rows))
}

func TestExpungedDocFilterHidesPendingDeletes(t *testing.T) {
	idx := newIndex(t, false)
	require.NoError(t, idx.Insert(1, "apple", nil, nil, nil))
	require.NoError(t, idx.Insert(2, "apple", nil, nil, nil))
	require.NoError(t, idx.RunMerge(nil))
	// Deferred deletion: row 2 masked by the capsule filter until merged.
	require.NoError(t, idx.Expunge(2, "apple", nil))

	c, err := NewParsed(idx, "apple")
	require.NoError(t, err)
	_, rows, _, err := c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{1}, rowIDs(rows))

	count, err := c.GetEstimateCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestFreeTextMatchModes(t *testing.T) {
	idx := newIndex(t, false)
	require.NoError(t, idx.Insert(1, "apple pie", nil, nil, nil))
	require.NoError(t, idx.Insert(2, "apple tart", nil, nil, nil))
	require.NoError(t, idx.Insert(3, "plum tart", nil, nil, nil))

	c, err := NewFreeText(idx, "apple tart", nil, MatchOr)
	require.NoError(t, err)
	_, rows, _, err := c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{1, 2, 3}, rowIDs(rows))

	c, err = NewFreeText(idx, "apple tart", nil, MatchAnd)
	require.NoError(t, err)
	_, rows, _, err = c.Execute(0, types.SortRowIDAsc)
	require.NoError(t, err)
	assert.Equal(t, []types.RowID{2}, rowIDs(rows))

	// Additive scoring ranks the double hit first.
	c, err = NewFreeText(idx, "apple tart", nil, MatchAdd)
	require.NoError(t, err)
	_, rows, _, err = c.Execute(0, types.SortScoreDesc)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, types.RowID(2), rows[0].RowID)
}

func TestScoreAscErasesLeadingRows(t *testing.T) {
	rows := []ScoredRow{
		{RowID: 1, Score: 0.1},
		{RowID: 2, Score: 0.5},
		{RowID: 3, Score: 0.9},
		{RowID: 4, Score: 0.7},
	}
	got := orderAndTruncate(rows, types.SortScoreAsc, 2)
	require.Len(t, got, 2)
	// The *first* N-limit rows are erased, keeping the high tail.
	assert.Equal(t, types.RowID(4), got[0].RowID)
	assert.Equal(t, types.RowID(3), got[1].RowID)
}

func TestComposeSingleUnitKeepsUnsortedOnNoSort(t *testing.T) {
	idx := newIndex(t, false)
	require.NoError(t, idx.Insert(2, "apple", nil, nil, nil))
	require.NoError(t, idx.Insert(1, "apple", nil, nil, nil))

	c, err := NewParsed(idx, "apple")
	require.NoError(t, err)
	_, rows, _, err := c.Execute(0, types.SortNone)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecuteSignature(t *testing.T) {
	idx := newIndex(t, false)
	require.NoError(t, idx.Insert(1, "apple", nil, nil, nil))
	require.NoError(t, idx.RunMerge(nil))
	require.NoError(t, idx.Insert(2, "pear", nil, nil, nil))

	c, err := NewParsed(idx, "apple")
	require.NoError(t, err)

	big, err := c.ExecuteSignature(SigBig)
	require.NoError(t, err)
	assert.True(t, big.Contains(1))
	assert.False(t, big.Contains(2))

	cur, err := c.ExecuteSignature(SigInsertCurrent)
	require.NoError(t, err)
	assert.True(t, cur.Contains(2))
}

func TestClusteringGroupsSimilarDocuments(t *testing.T) {
	idx := newIndex(t, true)
	// Two topic groups with shared vocabulary.
	require.NoError(t, idx.Insert(1, "apple pie baking sugar", nil, nil, nil))
	require.NoError(t, idx.Insert(2, "apple pie baking flour", nil, nil, nil))
	require.NoError(t, idx.Insert(3, "quantum physics electrons", nil, nil, nil))

	c, err := NewParsed(idx, "apple OR pie OR quantum OR physics")
	require.NoError(t, err)
	p := DefaultClusterParams()
	p.GlobalThreshold = 0.3
	p.LocalThreshold = 0.3
	c.EnableClustering(p)

	_, rows, clusters, err := c.Execute(0, types.SortScoreDesc)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Len(t, clusters, 3)

	byRow := make(map[types.RowID]int)
	for _, r := range rows {
		byRow[r.RowID] = r.ClusterID
	}
	assert.Equal(t, byRow[1], byRow[2], "similar documents share a cluster")
	assert.NotEqual(t, byRow[1], byRow[3], "dissimilar document is apart")
}

func TestClusteringSingleResult(t *testing.T) {
	idx := newIndex(t, true)
	require.NoError(t, idx.Insert(1, "lonely document", nil, nil, nil))

	c, err := NewParsed(idx, "lonely")
	require.NoError(t, err)
	c.EnableClustering(DefaultClusterParams())
	_, rows, clusters, err := c.Execute(0, types.SortScoreDesc)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int{0}, clusters)
}

func TestWordListAndTermList(t *testing.T) {
	idx := newIndex(t, false)
	for i := 0; i < 4; i++ {
		require.NoError(t, idx.Insert(types.RowID(i+1), fmt.Sprintf("common unique%d", i), nil, nil, nil))
	}
	c, err := NewWordList(idx, []string{"common", "unique0"}, MatchOr)
	require.NoError(t, err)

	stats, err := c.ExecuteWordList()
	require.NoError(t, err)
	byTerm := make(map[string]uint64)
	for _, s := range stats {
		byTerm[s.Term] = s.DocCount
	}
	assert.Equal(t, uint64(4), byTerm["common"])
	assert.Equal(t, uint64(1), byTerm["unique0"])

	terms := c.GetSearchTermList()
	assert.ElementsMatch(t, []string{"common", "unique0"}, terms)
}

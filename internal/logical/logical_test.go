package logical

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/delayindex"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func newInterface(t *testing.T) *Interface {
	t.Helper()
	cfg := delayindex.Config{Cap: inverted.Capability{WordIndex: true}}
	idx, err := delayindex.Open(inverted.NewMemEnv(), cfg, trans.New())
	require.NoError(t, err)
	return New(idx)
}

func TestFieldMaskGroupExclusivity(t *testing.T) {
	_, err := NewFieldMask(FieldRowID, FieldScore)
	assert.NoError(t, err)

	_, err = NewFieldMask(FieldWord, FieldWordDf)
	assert.NoError(t, err)

	_, err = NewFieldMask(FieldRowID, FieldWord)
	assert.Error(t, err, "normal and word groups are mutually exclusive")

	_, err = NewFieldMask(FieldLength, FieldScore)
	assert.Error(t, err, "length and normal groups are mutually exclusive")
}

func TestProjectionPathResolution(t *testing.T) {
	rowOnly, err := NewFieldMask(FieldRowID)
	require.NoError(t, err)
	scored, err := NewFieldMask(FieldRowID, FieldScore)
	require.NoError(t, err)
	word, err := NewFieldMask(FieldWord)
	require.NoError(t, err)
	length, err := NewFieldMask(FieldAverageLength)
	require.NoError(t, err)

	assert.Equal(t, PathBitset, (&OpenOption{Mask: rowOnly}).Path())
	assert.Equal(t, PathSearchResult, (&OpenOption{Mask: scored}).Path())
	assert.Equal(t, PathWord, (&OpenOption{Mask: word}).Path())
	assert.Equal(t, PathLength, (&OpenOption{Mask: length}).Path())
	assert.Equal(t, PathSearchByBitSet,
		(&OpenOption{Mask: scored, ByBitSet: roaring.New()}).Path())
}

func TestInsertGetRoundTrip(t *testing.T) {
	li := newInterface(t)
	require.NoError(t, li.Insert(&DataArray{RowID: 1, Document: "apple pie"}))
	require.NoError(t, li.Insert(&DataArray{RowID: 2, Document: "pear tart"}))

	mask, err := NewFieldMask(FieldRowID)
	require.NoError(t, err)
	res, err := li.Get("apple", &OpenOption{Mask: mask, Sort: types.SortRowIDAsc})
	require.NoError(t, err)
	require.NotNil(t, res.Bitset)
	assert.True(t, res.Bitset.Contains(1))
	assert.False(t, res.Bitset.Contains(2))
}

func TestUpdateReplacesDocument(t *testing.T) {
	li := newInterface(t)
	require.NoError(t, li.Insert(&DataArray{RowID: 1, Document: "old words"}))
	require.NoError(t, li.Update(
		&DataArray{RowID: 1, Document: "old words"},
		&DataArray{RowID: 1, Document: "new words"},
	))

	mask, err := NewFieldMask(FieldRowID)
	require.NoError(t, err)
	res, err := li.Get("old", &OpenOption{Mask: mask})
	require.NoError(t, err)
	assert.True(t, res.Bitset.IsEmpty())
	res, err = li.Get("new", &OpenOption{Mask: mask})
	require.NoError(t, err)
	assert.True(t, res.Bitset.Contains(1))
}

func TestSearchByBitSetRestricts(t *testing.T) {
	li := newInterface(t)
	require.NoError(t, li.Insert(&DataArray{RowID: 1, Document: "shared term"}))
	require.NoError(t, li.Insert(&DataArray{RowID: 2, Document: "shared term"}))

	mask, err := NewFieldMask(FieldRowID, FieldScore)
	require.NoError(t, err)
	res, err := li.Get("shared", &OpenOption{
		Mask:     mask,
		ByBitSet: roaring.BitmapOf(2),
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, types.RowID(2), res.Rows[0].RowID)
}

func TestLengthProjection(t *testing.T) {
	li := newInterface(t)
	require.NoError(t, li.Insert(&DataArray{RowID: 1, Document: "one two three"}))
	require.NoError(t, li.Insert(&DataArray{RowID: 2, Document: "four five"}))

	mask, err := NewFieldMask(FieldAverageLength, FieldAverageCharLength)
	require.NoError(t, err)
	res, err := li.Get("ignored", &OpenOption{Mask: mask})
	require.NoError(t, err)
	require.NotNil(t, res.Lengths)
	assert.Equal(t, uint32(2), res.Lengths.Count)
	assert.InDelta(t, 2.5, res.Lengths.AverageLength, 0.001)
}

func TestKwicOffsetScalesAndClamps(t *testing.T) {
	li := newInterface(t)
	// 10 tokens.
	doc := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	require.NoError(t, li.Insert(&DataArray{RowID: 1, Document: doc}))

	// Position 5 of 10 tokens lands near the middle of the text.
	off, err := li.KwicOffset(1, 5, 10)
	require.NoError(t, err)
	assert.InDelta(t, uint32(len(doc)/2), off, 4)

	// A window at the tail clamps so the excerpt fits.
	off, err = li.KwicOffset(1, 9, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, off, uint32(len(doc)-20))

	_, err = li.KwicOffset(99, 0, 10)
	assert.Error(t, err)
}

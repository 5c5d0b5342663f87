package delayindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

var wordCfg = Config{Cap: inverted.Capability{WordIndex: true}}

func openIndex(t *testing.T, env *inverted.Env, cfg Config) *File {
	t.Helper()
	f, err := Open(env, cfg, trans.New())
	require.NoError(t, err)
	return f
}

// bigRowIDs reads a term's big-unit postings back as row ids.
func bigRowIDs(t *testing.T, f *File, term string) []types.RowID {
	t.Helper()
	ps, err := f.big.PostingList(term)
	require.NoError(t, err)
	var rows []types.RowID
	for _, p := range ps {
		r, err := f.big.RowIDOf(p.DocID)
		require.NoError(t, err)
		rows = append(rows, r)
	}
	return rows
}

func TestSyncMergeRoundTrip(t *testing.T) {
	cfg := wordCfg
	cfg.InsertTupleThreshold = 3
	env := inverted.NewMemEnv()
	f := openIndex(t, env, cfg)

	for _, row := range []types.RowID{1, 2, 3} {
		require.NoError(t, f.Insert(row, "apple", nil, nil, nil))
	}
	require.True(t, f.NeedInsertMerge())
	require.NoError(t, f.RunMerge(nil))

	assert.Equal(t, []types.RowID{1, 2, 3}, bigRowIDs(t, f, "apple"))
	assert.Equal(t, uint32(0), f.ins[0].TupleCount())
	assert.Equal(t, uint32(0), f.ins[1].TupleCount())
	assert.Equal(t, types.ProceedingIdle, f.info.Proceeding())
	assert.Equal(t, types.Side1, f.info.Bit(), "the bit toggles exactly once")
}

func TestDeferredDelete(t *testing.T) {
	cfg := wordCfg
	cfg.InsertTupleThreshold = 3
	cfg.ExpungeTupleThreshold = 1
	env := inverted.NewMemEnv()
	f := openIndex(t, env, cfg)

	for _, row := range []types.RowID{1, 2, 3} {
		require.NoError(t, f.Insert(row, "apple", nil, nil, nil))
	}
	require.NoError(t, f.RunMerge(nil))

	// Row 2 lives only in the big unit, so the deletion is deferred.
	require.NoError(t, f.Expunge(2, "apple", nil))
	ok, err := f.currentDelete().Contains(2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.True(t, f.NeedExpungeMerge())
	require.NoError(t, f.RunMerge(nil))

	assert.Equal(t, []types.RowID{1, 3}, bigRowIDs(t, f, "apple"))
	assert.Equal(t, uint32(0), f.del[0].TupleCount())
	assert.Equal(t, uint32(0), f.del[1].TupleCount())

	visible, err := f.Contains(2)
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestExpungeFromCurrentInsertIsDirect(t *testing.T) {
	env := inverted.NewMemEnv()
	f := openIndex(t, env, wordCfg)

	require.NoError(t, f.Insert(5, "pear", nil, nil, nil))
	require.NoError(t, f.Expunge(5, "pear", nil))

	ok, err := f.currentInsert().Contains(5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), f.currentDelete().TupleCount())
}

func TestExpungeUnknownRowFails(t *testing.T) {
	f := openIndex(t, inverted.NewMemEnv(), wordCfg)
	err := f.Expunge(99, "ghost", nil)
	assert.True(t, errs.Of(err, errs.UndefinedDocumentID))
}

func TestMergeWithBothSidesEmpty(t *testing.T) {
	f := openIndex(t, inverted.NewMemEnv(), wordCfg)

	require.NoError(t, f.OpenForMerge())
	more, err := f.MergeList(nil)
	require.NoError(t, err)
	assert.False(t, more)
	require.NoError(t, f.MergeVector())
	assert.Equal(t, types.ProceedingIdle, f.info.Proceeding())
	assert.Equal(t, uint32(0), f.big.TupleCount())
}

func TestOpenCloseForMergeLeavesBitUnchanged(t *testing.T) {
	f := openIndex(t, inverted.NewMemEnv(), wordCfg)
	before := f.info.Bit()
	require.NoError(t, f.OpenForMerge())
	require.NoError(t, f.CloseForMerge())
	assert.Equal(t, before, f.info.Bit())
	assert.Equal(t, types.ProceedingIdle, f.info.Proceeding())
}

func TestWritersTargetNewSideDuringMerge(t *testing.T) {
	env := inverted.NewMemEnv()
	f := openIndex(t, env, wordCfg)

	require.NoError(t, f.Insert(1, "old doc", nil, nil, nil))
	require.NoError(t, f.OpenForMerge())

	// Mid-merge writes land on the new current side, not the merge side.
	require.NoError(t, f.Insert(2, "new doc", nil, nil, nil))
	ok, err := f.currentInsert().Contains(2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.mergeInsert().Contains(2)
	require.NoError(t, err)
	assert.False(t, ok)

	for {
		more, err := f.MergeList(nil)
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.NoError(t, f.MergeVector())
	require.NoError(t, f.CloseForMerge())

	// Row 1 folded into big; row 2 still in the current side.
	ok, err = f.big.Contains(1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.currentInsert().Contains(2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCrashDuringListMergeResumes(t *testing.T) {
	env := inverted.NewMemEnv()
	f := openIndex(t, env, wordCfg)

	// Several distinct terms so the list merge takes multiple steps.
	require.NoError(t, f.Insert(1, "alpha beta gamma", nil, nil, nil))
	require.NoError(t, f.Insert(2, "beta delta", nil, nil, nil))
	require.NoError(t, f.Insert(3, "gamma epsilon", nil, nil, nil))

	require.NoError(t, f.OpenForMerge())
	// Fold some but not all posting lists, then "crash".
	more, err := f.MergeList(nil)
	require.NoError(t, err)
	require.True(t, more)
	more, err = f.MergeList(nil)
	require.NoError(t, err)
	require.True(t, more)

	// Restart: reopen the group over the same persisted bytes.
	f2 := openIndex(t, env, wordCfg)
	require.Equal(t, types.ProceedingListMerging, f2.info.Proceeding())
	require.NoError(t, f2.ResumeMerge(nil))
	require.NoError(t, f2.CloseForMerge())
	assert.Equal(t, types.ProceedingIdle, f2.info.Proceeding())

	// The outcome matches an uninterrupted merge of the same input.
	envRef := inverted.NewMemEnv()
	ref := openIndex(t, envRef, wordCfg)
	require.NoError(t, ref.Insert(1, "alpha beta gamma", nil, nil, nil))
	require.NoError(t, ref.Insert(2, "beta delta", nil, nil, nil))
	require.NoError(t, ref.Insert(3, "gamma epsilon", nil, nil, nil))
	require.NoError(t, ref.RunMerge(nil))

	for _, term := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		assert.Equal(t, bigRowIDs(t, ref, term), bigRowIDs(t, f2, term), "term %q", term)
	}
	assert.Equal(t, ref.big.TupleCount(), f2.big.TupleCount())
}

func TestVerifyReportsInjectedDeletion(t *testing.T) {
	env := inverted.NewMemEnv()
	f := openIndex(t, env, wordCfg)
	tx := trans.New()

	// A pending deletion for a row that exists nowhere else.
	_, err := f.currentDelete().AssignDocumentID(f.tok, "phantom", nil, 7,
		inverted.BigDocRef{DocID: 1234, Unit: 0})
	require.NoError(t, err)

	progress, err := f.Verify(tx, types.TreatmentContinue)
	require.NoError(t, err)
	assert.False(t, progress.Consistent())
	require.Len(t, progress.Findings, 1)
	assert.True(t, errs.Of(progress.Findings[0], errs.InaccurateRowid))
}

func TestVerifyCleanIndexIsConsistent(t *testing.T) {
	env := inverted.NewMemEnv()
	cfg := wordCfg
	f := openIndex(t, env, cfg)
	require.NoError(t, f.Insert(1, "one", nil, nil, nil))
	require.NoError(t, f.Insert(2, "two", nil, nil, nil))
	require.NoError(t, f.RunMerge(nil))
	require.NoError(t, f.Insert(3, "three", nil, nil, nil))

	progress, err := f.Verify(trans.New(), types.TreatmentContinue)
	require.NoError(t, err)
	assert.True(t, progress.Consistent())
}

func TestReopenAfterCreateDoesNotCorrupt(t *testing.T) {
	env := inverted.NewMemEnv()
	f := openIndex(t, env, wordCfg)
	require.NoError(t, f.Insert(1, "persist me", nil, nil, nil))
	require.NoError(t, f.Flush())

	f2 := openIndex(t, env, wordCfg)
	ok, err := f2.Contains(1)
	require.NoError(t, err)
	assert.True(t, ok)
	progress, err := f2.Verify(trans.New(), types.TreatmentContinue)
	require.NoError(t, err)
	assert.True(t, progress.Consistent())
}

package mainfile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func newFile(t *testing.T) *File {
	t.Helper()
	f, err := New(pagestore.NewMemoryFile("mem", pagestore.DefaultPageSize), 4)
	require.NoError(t, err)
	f.Open(trans.New())
	return f
}

func TestAllocateDetachFlush(t *testing.T) {
	f := newFile(t)

	p, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	copy(p.Data(), []byte("abc"))
	f.DetachPhysicalPage(p)
	require.NoError(t, f.FlushAllPages())

	p, err = f.AttachPhysicalPage(0, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), p.Data()[:3])
	f.DetachPhysicalPage(p)
}

func TestDirtyPageParksUntilFlush(t *testing.T) {
	f := newFile(t)

	p, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	f.DetachPhysicalPage(p)
	require.NoError(t, f.FlushAllPages())

	p, err = f.AttachPhysicalPage(0, PriorityLow)
	require.NoError(t, err)
	copy(p.Data(), []byte("dirty"))
	p.Dirty()
	f.DetachPhysicalPage(p)
	assert.Len(t, f.dirty, 1)

	// Re-attach pulls it back out of the dirty map, same image.
	p, err = f.AttachPhysicalPage(0, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, []byte("dirty"), p.Data()[:5])
	f.DetachPhysicalPage(p)
	require.NoError(t, f.FlushAllPages())
}

func TestRecoverAllPagesDiscards(t *testing.T) {
	f := newFile(t)

	p, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	copy(p.Data(), []byte("keep"))
	f.DetachPhysicalPage(p)
	require.NoError(t, f.FlushAllPages())

	p, err = f.AttachPhysicalPage(0, PriorityLow)
	require.NoError(t, err)
	copy(p.Data(), []byte("lose"))
	p.Dirty()
	f.DetachPhysicalPage(p)
	f.RecoverAllPages()

	p, err = f.AttachPhysicalPage(0, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), p.Data()[:4])
	f.DetachPhysicalPage(p)
}

func TestFreeListReusesPages(t *testing.T) {
	f := newFile(t)

	p0, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	p1, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	require.Equal(t, types.PageID(1), p1.ID)
	f.DetachPhysicalPage(p1)

	p1, err = f.AttachPhysicalPage(1, PriorityLow)
	require.NoError(t, err)
	f.FreePhysicalPage(p1)
	f.DetachPhysicalPage(p1)

	// Next allocation reuses the freed page rather than growing the file.
	p2, err := f.AllocatePhysicalPage()
	require.NoError(t, err)
	assert.Equal(t, types.PageID(1), p2.ID)
	f.DetachPhysicalPage(p2)
	f.DetachPhysicalPage(p0)
}

func TestVerifyProgressTreatment(t *testing.T) {
	vp := &VerifyProgress{Treatment: 0}
	err := vp.Report(assert.AnError)
	assert.Error(t, err)
	assert.False(t, vp.Consistent())

	vp = &VerifyProgress{Treatment: types.TreatmentContinue}
	assert.NoError(t, vp.Report(assert.AnError))
	assert.NoError(t, vp.Report(assert.AnError))
	assert.Len(t, vp.Findings, 2)
}

func TestDictionarySaveLoadRoundTrip(t *testing.T) {
	f := newFile(t)
	d := NewDictionary(f)
	d.Put("apple", 3)
	d.Put("banana", 5)
	d.Put("cherry", 9)
	require.NoError(t, d.Save())
	require.NoError(t, f.FlushAllPages())

	d2 := NewDictionary(f)
	require.NoError(t, d2.Load())
	require.Equal(t, 3, d2.Len())
	head, ok := d2.Lookup("banana")
	require.True(t, ok)
	assert.Equal(t, types.PageID(5), head)

	var terms []string
	d2.Ascend("", func(e DictEntry) bool {
		terms = append(terms, e.Term)
		return true
	})
	assert.Equal(t, []string{"apple", "banana", "cherry"}, terms)
}

func TestDictionaryMultiPageSave(t *testing.T) {
	f := newFile(t)
	d := NewDictionary(f)
	// Enough entries to spill past one page.
	content := f.Store().ContentSize()
	perEntry := 2 + 32 + 4
	n := (content/perEntry)*2 + 10
	for i := 0; i < n; i++ {
		d.Put(fmtTerm(i), types.PageID(i))
	}
	require.NoError(t, d.Save())
	require.NoError(t, f.FlushAllPages())

	d2 := NewDictionary(f)
	require.NoError(t, d2.Load())
	assert.Equal(t, n, d2.Len())
}

func fmtTerm(i int) string { return fmt.Sprintf("term-%027d", i) }

package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func TestMemoryFileAllocateAndReadBack(t *testing.T) {
	f := NewMemoryFile("mem", DefaultPageSize)
	tx := trans.New()

	p, err := f.Fix(tx, 2, Write|Allocate)
	require.NoError(t, err)
	copy(p.Data(), []byte("hello"))
	p.Unfix(true)

	assert.Equal(t, types.PageID(2), f.MaxPageID())

	p, err = f.Fix(tx, 2, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), p.Data()[:5])
	p.Unfix(true)

	// Intermediate pages were allocated zero-filled.
	p, err = f.Fix(tx, 1, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0), p.Data()[0])
	p.Unfix(true)
}

func TestMemoryFileDiscardableRollsBack(t *testing.T) {
	f := NewMemoryFile("mem", DefaultPageSize)
	tx := trans.New()

	p, err := f.Fix(tx, 0, Write|Allocate)
	require.NoError(t, err)
	copy(p.Data(), []byte("committed"))
	p.Unfix(true)

	p, err = f.Fix(tx, 0, Write|Discardable)
	require.NoError(t, err)
	copy(p.Data(), []byte("scribbled"))
	p.Unfix(false)

	p, err = f.Fix(tx, 0, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), p.Data()[:9])
	p.Unfix(true)
}

func TestMemoryFileFixPastEndFails(t *testing.T) {
	f := NewMemoryFile("mem", DefaultPageSize)
	tx := trans.New()
	_, err := f.Fix(tx, 0, ReadOnly)
	assert.Error(t, err)
}

func TestMmapFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.syd")
	f, err := CreateMmapFile(path, DefaultPageSize)
	require.NoError(t, err)
	tx := trans.New()

	p, err := f.Fix(tx, 5, Write|Allocate)
	require.NoError(t, err)
	copy(p.Data(), []byte("durable"))
	p.Unfix(true)
	require.NoError(t, f.Sync(tx))
	require.NoError(t, f.Close())

	f2, err := OpenMmapFile(path)
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, types.PageID(5), f2.MaxPageID())
	assert.Equal(t, DefaultPageSize, f2.PageSize())

	p, err = f2.Fix(tx, 5, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), p.Data()[:7])
	p.Unfix(true)
}

func TestMmapFileDiscardableRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.syd")
	f, err := CreateMmapFile(path, DefaultPageSize)
	require.NoError(t, err)
	defer f.Close()
	tx := trans.New()

	p, err := f.Fix(tx, 0, Write|Allocate)
	require.NoError(t, err)
	copy(p.Data(), []byte("keep"))
	p.Unfix(true)

	p, err = f.Fix(tx, 0, Write|Discardable)
	require.NoError(t, err)
	copy(p.Data(), []byte("lose"))
	p.Unfix(false)

	p, err = f.Fix(tx, 0, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), p.Data()[:4])
	p.Unfix(true)
}

func TestVerifyStopsWithoutContinue(t *testing.T) {
	f := NewMemoryFile("mem", DefaultPageSize)
	tx := trans.New()
	for i := types.PageID(0); i <= 3; i++ {
		p, err := f.Fix(tx, i, Write|Allocate)
		require.NoError(t, err)
		p.Unfix(true)
	}

	visited := 0
	err := f.Verify(tx, 0, func(id types.PageID, content []byte) error {
		visited++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, visited)

	visited = 0
	err = f.Verify(tx, types.TreatmentContinue, func(id types.PageID, content []byte) error {
		visited++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 4, visited)
}

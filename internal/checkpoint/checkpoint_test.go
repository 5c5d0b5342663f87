package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func newDestroyer(t *testing.T) (*FileDestroyer, string) {
	t.Helper()
	dir := t.TempDir()
	d, err := NewFileDestroyer(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	return d, dir
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDestroyDeferredOneCheckpoint(t *testing.T) {
	d, dir := newDestroyer(t)
	victim := filepath.Join(dir, "data", "table.syd")
	touch(t, victim)

	tx := trans.New()
	require.NoError(t, d.Enter(tx, 1, types.DestroyLogicalFile, victim, ""))

	// The checkpoint that first observes the registration keeps the file.
	require.NoError(t, d.Execute(false))
	assert.FileExists(t, victim)
	assert.Len(t, d.Pending(), 1)

	// The next checkpoint destroys it.
	require.NoError(t, d.Execute(false))
	assert.NoFileExists(t, victim)
	assert.Empty(t, d.Pending())
}

func TestForceDestroysImmediately(t *testing.T) {
	d, dir := newDestroyer(t)
	victim := filepath.Join(dir, "x.log")
	touch(t, victim)

	require.NoError(t, d.Enter(trans.New(), 1, types.DestroyLogicalLog, victim, ""))
	require.NoError(t, d.Execute(true))
	assert.NoFileExists(t, victim)
}

func TestEraseWithdrawsSameTransaction(t *testing.T) {
	d, dir := newDestroyer(t)
	victim := filepath.Join(dir, "y.syd")
	touch(t, victim)

	tx := trans.New()
	require.NoError(t, d.Enter(tx, 1, types.DestroyLogicalFile, victim, ""))
	require.NoError(t, d.Erase(tx, victim))
	assert.Empty(t, d.Pending())

	require.NoError(t, d.Execute(true))
	assert.FileExists(t, victim)
}

func TestDirectoriesDestroyedLast(t *testing.T) {
	d, dir := newDestroyer(t)
	dbDir := filepath.Join(dir, "dbroot")
	file := filepath.Join(dbDir, "file.syd")
	touch(t, file)

	tx := trans.New()
	// Registered directory-first; execution still removes the file first.
	require.NoError(t, d.Enter(tx, 1, types.DestroyDirectory, dbDir, DirIfEmpty))
	require.NoError(t, d.Enter(tx, 1, types.DestroyLogicalFile, file, ""))
	require.NoError(t, d.Execute(true))
	assert.NoDirExists(t, dbDir)
}

func TestPruneStopsAtFiles(t *testing.T) {
	d, dir := newDestroyer(t)
	root := filepath.Join(dir, "keepme")
	touch(t, filepath.Join(root, "sub", "file.txt"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755))

	require.NoError(t, d.Enter(trans.New(), 1, types.DestroyDirectory, root, DirIfEmpty))
	require.NoError(t, d.Execute(true))

	assert.DirExists(t, root)
	assert.FileExists(t, filepath.Join(root, "sub", "file.txt"))
	assert.NoDirExists(t, filepath.Join(root, "empty"))
}

func TestFailedDestroyKeepsRecord(t *testing.T) {
	d, _ := newDestroyer(t)
	// A directory with contents under DirIfEmpty succeeds as a no-op, so
	// use a file inside an unreadable parent to force a failure only on
	// platforms where that works; instead simulate with a directory path
	// registered as a plain file, which Remove refuses.
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	touch(t, filepath.Join(sub, "f"))

	require.NoError(t, d.Enter(trans.New(), 1, types.DestroyLogicalFile, sub, ""))
	require.NoError(t, d.Execute(true))
	assert.Len(t, d.Pending(), 1, "failed destruction keeps the record")
	assert.DirExists(t, sub)
}

func TestManifestSurvivesRestart(t *testing.T) {
	d, dir := newDestroyer(t)
	victim := filepath.Join(dir, "z.syd")
	touch(t, victim)
	require.NoError(t, d.Enter(trans.New(), 3, types.DestroyLogicalFile, victim, ""))

	// Restart: a fresh destroyer over the same directory sees the record.
	d2, err := NewFileDestroyer(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, d2.Pending(), 1)
	assert.Equal(t, types.DatabaseID(3), d2.Pending()[0].DatabaseID)
}

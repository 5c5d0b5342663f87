package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoqueDB/sydney/internal/checkpoint"
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	destroyer, err := checkpoint.NewFileDestroyer(filepath.Join(root, "ckpt"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defaults := PathSet{
		Data:   filepath.Join(root, "data"),
		Log:    filepath.Join(root, "log"),
		System: filepath.Join(root, "system"),
	}
	m := NewManager(defaults, destroyer, zap.NewNop().Sugar())
	m.Availability().Reset()
	return m, root
}

func TestCreateBuildsCatalogLogAndSequence(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()

	db, err := m.Create(tx, "d1", PathSet{}, Attributes{Online: true}, false)
	require.NoError(t, err)
	assert.Equal(t, types.StateCreated, db.State)
	assert.FileExists(t, filepath.Join(root, "system", "d1", "catalog.db"))
	assert.FileExists(t, filepath.Join(root, "log", "d1", "sydney.log"))

	id, err := db.Sequence().Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	db.Persist()
	assert.Equal(t, types.StatePersistent, db.State)

	found, err := m.Find("d1")
	require.NoError(t, err)
	assert.Same(t, db, found)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	_, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	_, err = m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	assert.True(t, errs.Of(err, errs.DatabaseAlreadyDefined))
}

func TestCreateAllowExistenceIsIdempotent(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db1, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db2, err := m.Create(tx, "d1", PathSet{}, Attributes{}, true)
	require.NoError(t, err)
	assert.Same(t, db1, db2)
}

func TestPathReservationClash(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()

	base := filepath.Join(root, "srv", "a")
	_, err := m.Create(tx, "d1", PathSet{Data: base}, Attributes{}, false)
	require.NoError(t, err)

	// A nested path under another database's data root is refused, and
	// nothing is created under it.
	sub := filepath.Join(base, "sub")
	_, err = m.Create(tx, "d2", PathSet{Data: sub}, Attributes{}, false)
	require.Error(t, err)
	assert.True(t, errs.Of(err, errs.InvalidPath))
	assert.NoDirExists(t, sub)
}

func TestDropCreatedDestroysImmediately(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)

	require.NoError(t, m.Drop(tx, db, false))
	assert.NoDirExists(t, filepath.Join(root, "system", "d1"))
	_, err = m.Find("d1")
	assert.True(t, errs.Of(err, errs.DatabaseNotFound))
}

func TestDropPersistentDefersToCheckpoint(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	require.NoError(t, m.Drop(tx, db, false))
	assert.Equal(t, types.StateDeleted, db.State)
	// Nothing destroyed yet; the records wait for the checkpoint after
	// next.
	assert.DirExists(t, filepath.Join(root, "system", "d1"))
	assert.NotEmpty(t, m.destroyer.Pending())
}

func TestUndoDropRestoresPersistent(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	require.NoError(t, m.Drop(tx, db, false))
	require.NoError(t, m.UndoDrop(tx, db))
	assert.Equal(t, types.StatePersistent, db.State)
	assert.Empty(t, m.destroyer.Pending())
}

func TestMetaDumpReloadRoundTrip(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{Online: true, RecoveryFull: true}, false)
	require.NoError(t, err)
	db.SetMasterURL("sydney://master:54321")

	loaded, err := LoadMeta(db.DumpMeta())
	require.NoError(t, err)
	assert.Equal(t, db.Name, loaded.Name)
	assert.Equal(t, db.Paths, loaded.Paths)
	assert.Equal(t, db.Attrs.Flags(), loaded.Attrs.Flags())
	assert.Equal(t, "sydney://master:54321", loaded.Attrs.MasterURL)
}

func TestAlterConstraints(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	// START SLAVE without a master URL is refused.
	err = db.Alter(tx, AlterStartSlave)
	assert.True(t, errs.Of(err, errs.NotSupported))

	db.SetMasterURL("sydney://master")
	require.NoError(t, db.Alter(tx, AlterStartSlave))
	assert.True(t, db.Attrs.SlaveStarted)

	// A slave database refuses non-slave alters.
	err = db.Alter(tx, AlterReadOnly)
	assert.True(t, errs.Of(err, errs.NotSupported))

	// SET TO MASTER clears the replication state.
	require.NoError(t, db.Alter(tx, AlterSetToMaster))
	assert.Empty(t, db.Attrs.MasterURL)
	assert.False(t, db.Attrs.SlaveStarted)
	require.NoError(t, db.Alter(tx, AlterReadOnly))

	// A read-only database cannot discard its log.
	err = db.DiscardLog()
	assert.True(t, errs.Of(err, errs.NotSupported))
}

type fakeDaemon struct{ stops, starts int }

func (f *fakeDaemon) Stop()  { f.stops++ }
func (f *fakeDaemon) Start() { f.starts++ }

func TestSuperUserModeStopsDaemonAndBlocksOthers(t *testing.T) {
	m, _ := newManager(t)
	daemon := &fakeDaemon{}
	m.SetMergeDaemon(daemon)

	tx1 := trans.New()
	db, err := m.Create(tx1, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	require.NoError(t, db.Alter(tx1, AlterSuperUser))
	assert.Equal(t, 1, daemon.stops)

	// Another session's DDL observes the transitional state and aborts.
	tx2 := trans.New()
	err = m.CheckDDL(db, tx2.ID)
	assert.True(t, errs.Of(err, errs.Canceled))

	require.NoError(t, db.Alter(tx1, AlterMultiUser))
	assert.Equal(t, 1, daemon.starts)
	assert.NoError(t, m.CheckDDL(db, tx2.ID))
}

func TestMoveRelocatesCategories(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	newSystem := filepath.Join(root, "system2", "d1")
	require.NoError(t, db.Move(tx, PathSet{System: newSystem}))
	assert.FileExists(t, filepath.Join(newSystem, "catalog.db"))
	assert.Equal(t, newSystem, db.Paths.System)
	// The emptied old root is pruned.
	assert.NoDirExists(t, filepath.Join(root, "system", "d1"))
}

func TestUnmountIsIdempotent(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	require.NoError(t, db.Unmount(tx))
	assert.True(t, db.Attrs.Unmounted)
	require.NoError(t, db.Unmount(tx))
}

func TestMountReopensExisting(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()
	require.NoError(t, db.Unmount(tx))

	db2, err := m.Mount(tx, "d1", PathSet{})
	require.NoError(t, err)
	assert.Equal(t, types.StateMounted, db2.State)
	assert.FileExists(t, filepath.Join(root, "system", "d1", "catalog.db"))
}

func TestCacheFreezeMeltRoundTrip(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)

	db.CacheTable("t1", "serialized table t1")
	require.NoError(t, db.Caches().Freeze())
	assert.True(t, db.Caches().Frozen())

	v, ok, err := db.CachedTable("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "serialized table t1", v)
	assert.False(t, db.Caches().Frozen())
}

func TestSequenceSurvivesReopen(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.Sequence().Next()
		require.NoError(t, err)
	}

	// Reopen the catalog the way a restart would.
	cat, err := OpenCatalog("sqlite:" + filepath.Join(root, "system", "d1", "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()
	seq := NewSequence(cat, "object_id")
	v, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), v)
}

func TestAvailabilityGatesFind(t *testing.T) {
	m, _ := newManager(t)
	tx := trans.New()
	db, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.NoError(t, err)
	db.Persist()

	m.Availability().SetDatabaseAvailability(db.ID, false)
	_, err = m.Find("d1")
	assert.True(t, errs.Of(err, errs.DatabaseNotAvailable))

	m.Availability().SetDatabaseAvailability(db.ID, true)
	_, err = m.Find("d1")
	assert.NoError(t, err)
}

func TestCreateUndoChainOnFailure(t *testing.T) {
	m, root := newManager(t)
	tx := trans.New()

	// Occupy the log directory path with a file so creating the logical
	// log fails after the data and system directories already exist.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "log"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "log", "d1"), []byte("x"), 0o644))

	_, err := m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	require.Error(t, err)
	// The undo chain removed the partially created data directory and
	// released the name for a retry.
	assert.NoDirExists(t, filepath.Join(root, "data", "d1"))
	require.NoError(t, os.Remove(filepath.Join(root, "log", "d1")))
	_, err = m.Create(tx, "d1", PathSet{}, Attributes{}, false)
	assert.NoError(t, err)
}

package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoqueDB/sydney/internal/avail"
	"github.com/DoqueDB/sydney/internal/checkpoint"
	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// Attributes are a database's alterable flags plus the replication master.
type Attributes struct {
	ReadOnly      bool
	Online        bool
	RecoveryFull  bool
	SuperUserMode bool
	SlaveStarted  bool
	Unmounted     bool
	MasterURL     string
}

// Flags packs the attributes in their persisted bit order.
func (a Attributes) Flags() uint32 {
	var f uint32
	if a.ReadOnly {
		f |= uint32(types.AttrReadOnly)
	}
	if a.Online {
		f |= uint32(types.AttrOnline)
	}
	if a.RecoveryFull {
		f |= uint32(types.AttrRecoveryFull)
	}
	if a.SuperUserMode {
		f |= uint32(types.AttrSuperUserMode)
	}
	if a.SlaveStarted {
		f |= uint32(types.AttrSlaveStarted)
	}
	if a.Unmounted {
		f |= uint32(types.AttrUnmounted)
	}
	return f
}

func attributesFromFlags(f uint32) Attributes {
	return Attributes{
		ReadOnly:      f&uint32(types.AttrReadOnly) != 0,
		Online:        f&uint32(types.AttrOnline) != 0,
		RecoveryFull:  f&uint32(types.AttrRecoveryFull) != 0,
		SuperUserMode: f&uint32(types.AttrSuperUserMode) != 0,
		SlaveStarted:  f&uint32(types.AttrSlaveStarted) != 0,
		Unmounted:     f&uint32(types.AttrUnmounted) != 0,
	}
}

// Database is one named database's schema object.
type Database struct {
	mu sync.RWMutex

	ID        types.DatabaseID
	Name      string
	Paths     PathSet
	Attrs     Attributes
	State     types.DatabaseState
	Temporary bool

	catalog *Catalog
	seq     *Sequence
	logFile *trans.FileLog

	mgr *Manager

	caches *objectCaches
	refs   int
}

// Manager is the process-wide database registry and lifecycle
// orchestrator.
type Manager struct {
	mu        sync.Mutex
	databases map[string]*Database
	nextID    types.DatabaseID

	defaults  PathSet
	paths     *PathRegistry
	names     *nameRegistry
	avail     *avail.Registry
	destroyer *checkpoint.FileDestroyer
	super     *superUserMap
	log       *zap.SugaredLogger
}

// NewManager builds a manager rooted at the default path set.
func NewManager(defaults PathSet, destroyer *checkpoint.FileDestroyer, log *zap.SugaredLogger) *Manager {
	return &Manager{
		databases: make(map[string]*Database),
		defaults:  defaults,
		paths:     NewPathRegistry(),
		names:     newNameRegistry(),
		avail:     avail.Default(),
		destroyer: destroyer,
		super:     newSuperUserMap(),
		log:       log,
	}
}

// Availability exposes the availability registry backing this manager.
func (m *Manager) Availability() *avail.Registry { return m.avail }

func (m *Manager) catalogPath(p PathSet) string {
	return "sqlite:" + filepath.Join(p.System, "catalog.db")
}

func (m *Manager) logPath(p PathSet) string {
	return filepath.Join(p.Log, "sydney.log")
}

// Create builds a database: name and path reservation, directories, the
// system tables, the logical log and the object-id sequence, in that
// order, with a stepwise undo chain. allowExistence admits re-running
// create over an existing database, the crash-recovery redo path.
func (m *Manager) Create(tx *trans.Transaction, name string, paths PathSet, attrs Attributes, allowExistence bool) (db *Database, err error) {
	m.mu.Lock()
	if existing, ok := m.databases[name]; ok {
		m.mu.Unlock()
		if allowExistence {
			return existing, nil
		}
		return nil, errs.New(errs.DatabaseAlreadyDefined, "schema.create", nil)
	}
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	// Undo chain: each completed step pushes its inverse.
	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			func(f func()) {
				defer func() {
					if r := recover(); r != nil {
						m.failRecovery(id, name, fmt.Errorf("panic: %v", r))
					}
				}()
				f()
			}(undo[i])
		}
	}()

	if err = m.names.reserve(name); err != nil {
		if allowExistence {
			err = nil
		} else {
			return nil, err
		}
	} else {
		undo = append(undo, func() { m.names.release(name) })
	}

	resolved := paths.resolve(m.defaults, name)
	if err = m.paths.Reserve(name, allowExistence, resolved.Data, resolved.Log, resolved.System); err != nil {
		return nil, err
	}
	undo = append(undo, func() { m.paths.Release(name) })

	var madeDirs []string
	for _, dir := range []string{resolved.Data, resolved.Log, resolved.System} {
		if _, statErr := os.Stat(dir); statErr == nil {
			continue
		}
		if err = os.MkdirAll(dir, 0o755); err != nil {
			err = fmt.Errorf("schema: create dirs: %w", err)
			return nil, err
		}
		madeDirs = append(madeDirs, dir)
	}
	undo = append(undo, func() {
		for i := len(madeDirs) - 1; i >= 0; i-- {
			if rmErr := os.RemoveAll(madeDirs[i]); rmErr != nil {
				m.failRecovery(id, name, rmErr)
				return
			}
		}
	})

	catalog, err := OpenCatalog(m.catalogPath(resolved))
	if err != nil {
		return nil, err
	}
	undo = append(undo, func() { catalog.Close() })
	if err = catalog.CreateSystemTables(); err != nil {
		return nil, err
	}
	undo = append(undo, func() {
		if undoErr := catalog.dropCreated(); undoErr != nil {
			m.failRecovery(id, name, undoErr)
		}
	})

	logFile, err := trans.CreateFileLog(m.logPath(resolved))
	if err != nil {
		return nil, err
	}
	undo = append(undo, func() {
		if undoErr := logFile.Destroy(); undoErr != nil {
			m.failRecovery(id, name, undoErr)
		}
	})

	seq := NewSequence(catalog, "object_id")
	if _, err = seq.Current(); err != nil {
		return nil, err
	}

	db = &Database{
		ID:      id,
		Name:    name,
		Paths:   resolved,
		Attrs:   attrs,
		State:   types.StateCreated,
		catalog: catalog,
		seq:     seq,
		logFile: logFile,
		mgr:     m,
		caches:  newObjectCaches(),
	}
	m.mu.Lock()
	m.databases[name] = db
	m.mu.Unlock()
	m.avail.SetDatabaseAvailability(id, true)
	tx.SetLog(trans.LogDatabase, logFile)
	return db, nil
}

// failRecovery marks the database unavailable after a failed undo step.
func (m *Manager) failRecovery(id types.DatabaseID, name string, cause error) {
	m.avail.SetDatabaseAvailability(id, false)
	m.log.Errorw("Recovery failed", "database", name, "error", cause)
}

// Find resolves a database by name.
func (m *Manager) Find(name string) (*Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	db, ok := m.databases[name]
	if !ok {
		return nil, errs.New(errs.DatabaseNotFound, "schema.find", nil)
	}
	if !m.avail.IsAvailable(db.ID, 0) {
		return nil, errs.New(errs.DatabaseNotAvailable, "schema.find", nil)
	}
	return db, nil
}

// Persist transitions a created database to Persistent at commit.
func (d *Database) Persist() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case types.StateCreated, types.StateChanged, types.StateMounted, types.StateDeleteCanceled:
		d.State = types.StatePersistent
	}
}

// Mount attaches an existing database: tables first (through the catalog
// connection), then the logical log. Idempotent so recovery can redo it.
func (m *Manager) Mount(tx *trans.Transaction, name string, paths PathSet) (*Database, error) {
	m.mu.Lock()
	if db, ok := m.databases[name]; ok && !db.Attrs.Unmounted {
		m.mu.Unlock()
		return db, nil
	}
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	resolved := paths.resolve(m.defaults, name)
	if err := m.paths.Reserve(name, true, resolved.Data, resolved.Log, resolved.System); err != nil {
		return nil, err
	}
	catalog, err := OpenCatalog(m.catalogPath(resolved))
	if err != nil {
		m.paths.Release(name)
		return nil, err
	}
	// Mount tables: the catalog must answer for its system tables.
	var n int
	if err := catalog.QueryRow("SELECT COUNT(*) FROM sydney_table").Scan(&n); err != nil {
		catalog.Close()
		m.paths.Release(name)
		return nil, errs.New(errs.LogFileCorrupted, "schema.mount", err)
	}
	logFile, err := trans.MountFileLog(m.logPath(resolved))
	if err != nil {
		catalog.Close()
		m.paths.Release(name)
		return nil, errs.New(errs.LogFileCorrupted, "schema.mount", err)
	}

	db := &Database{
		ID:      id,
		Name:    name,
		Paths:   resolved,
		State:   types.StateMounted,
		catalog: catalog,
		seq:     NewSequence(catalog, "object_id"),
		logFile: logFile,
		mgr:     m,
		caches:  newObjectCaches(),
	}
	m.mu.Lock()
	m.databases[name] = db
	m.mu.Unlock()
	m.avail.SetDatabaseAvailability(id, true)
	tx.SetLog(trans.LogDatabase, logFile)
	return db, nil
}

// Unmount reverses Mount: the log releases first being the reverse order
// of attachment, then the catalog, and the unmounted flag persists on the
// object. Idempotent.
func (d *Database) Unmount(tx *trans.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Attrs.Unmounted {
		return nil
	}
	if err := d.logFile.Flush(); err != nil {
		return err
	}
	if err := d.catalog.Close(); err != nil {
		return err
	}
	d.Attrs.Unmounted = true
	d.mgr.paths.Release(d.Name)
	return nil
}

// Drop marks the database deleted. A still-Created database is destroyed
// immediately; a Persistent one defers physical destruction to the
// checkpoint destroyer.
func (m *Manager) Drop(tx *trans.Transaction, db *Database, discardLog bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.Attrs.ReadOnly && discardLog {
		return errs.New(errs.NotSupported, "schema.drop", nil)
	}
	switch db.State {
	case types.StateCreated:
		db.State = types.StateReallyDeleted
		return m.destroyNow(db)
	case types.StatePersistent, types.StateMounted, types.StateChanged:
		db.State = types.StateDeleted
		if err := m.destroyer.Enter(tx, db.ID, types.DestroyLogicalLog, db.logFile.Path(), ""); err != nil {
			return err
		}
		for _, dir := range []string{db.Paths.Data, db.Paths.Log, db.Paths.System} {
			if err := m.destroyer.Enter(tx, db.ID, types.DestroyDirectory, dir, checkpoint.DirAll); err != nil {
				return err
			}
		}
		return nil
	default:
		return errs.New(errs.Unexpected, "schema.drop", nil)
	}
}

// UndoDrop restores a dropped database before the commit point.
func (m *Manager) UndoDrop(tx *trans.Transaction, db *Database) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.State != types.StateDeleted {
		return errs.New(errs.BadArgument, "schema.undodrop", nil)
	}
	if err := m.destroyer.Erase(tx, db.logFile.Path()); err != nil {
		return err
	}
	for _, dir := range []string{db.Paths.Data, db.Paths.Log, db.Paths.System} {
		if err := m.destroyer.Erase(tx, dir); err != nil {
			return err
		}
	}
	db.State = types.StatePersistent
	return nil
}

// destroyNow removes the database's files immediately, the not-yet-
// persistent path.
func (m *Manager) destroyNow(db *Database) error {
	if db.catalog != nil {
		db.catalog.Close()
	}
	for _, dir := range []string{db.Paths.Data, db.Paths.Log, db.Paths.System} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.databases, db.Name)
	m.mu.Unlock()
	m.names.release(db.Name)
	m.paths.Release(db.Name)
	return nil
}

// Forget drops the in-memory registration after a deferred drop commits.
func (m *Manager) Forget(db *Database) {
	m.mu.Lock()
	delete(m.databases, db.Name)
	m.mu.Unlock()
	m.names.release(db.Name)
	m.paths.Release(db.Name)
}

// Catalog exposes the system-table connection.
func (d *Database) Catalog() *Catalog { return d.catalog }

// Sequence exposes the object-id generator.
func (d *Database) Sequence() *Sequence { return d.seq }

// Log exposes the logical log.
func (d *Database) Log() *trans.FileLog { return d.logFile }

// metaVersion tags the persisted meta record.
const metaVersion uint32 = 1

// DumpMeta serializes the database meta record: a version tag, id, name, the
// path array, a timestamp and the attribute flags. A master URL, when
// present, rides as the last element of the path array for backward
// compatibility.
func (d *Database) DumpMeta() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	w32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	wstr := func(s string) {
		w32(uint32(len(s)))
		buf.WriteString(s)
	}
	w32(metaVersion)
	w32(uint32(d.ID))
	wstr(d.Name)
	paths := []string{d.Paths.Data, d.Paths.Log, d.Paths.System}
	if d.Attrs.MasterURL != "" {
		paths = append(paths, d.Attrs.MasterURL)
	}
	w32(uint32(len(paths)))
	for _, p := range paths {
		wstr(p)
	}
	binary.Write(&buf, binary.LittleEndian, uint64(time.Now().UTC().UnixNano()))
	w32(d.Attrs.Flags())
	return buf.Bytes()
}

// LoadMeta reconstructs a database object from DumpMeta output.
func LoadMeta(data []byte) (*Database, error) {
	r := bytes.NewReader(data)
	r32 := func() (uint32, error) {
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	}
	rstr := func() (string, error) {
		n, err := r32()
		if err != nil {
			return "", err
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return "", err
		}
		return string(b), nil
	}
	ver, err := r32()
	if err != nil || ver != metaVersion {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	id, err := r32()
	if err != nil {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	name, err := rstr()
	if err != nil {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	nPaths, err := r32()
	if err != nil || nPaths < 3 {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	paths := make([]string, nPaths)
	for i := range paths {
		if paths[i], err = rstr(); err != nil {
			return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
		}
	}
	var ts uint64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	flags, err := r32()
	if err != nil {
		return nil, errs.New(errs.LogItemCorrupted, "schema.loadmeta", err)
	}
	attrs := attributesFromFlags(flags)
	if nPaths > 3 {
		attrs.MasterURL = paths[3]
	}
	return &Database{
		ID:     types.DatabaseID(id),
		Name:   name,
		Paths:  PathSet{Data: paths[0], Log: paths[1], System: paths[2]},
		Attrs:  attrs,
		State:  types.StatePersistent,
		caches: newObjectCaches(),
	}, nil
}

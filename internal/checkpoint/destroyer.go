package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/DoqueDB/sydney/internal/idgen"
	"github.com/DoqueDB/sydney/internal/observe"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// FileDestroyer is the process-wide registry of pending destructions,
// persisted to a JSONL manifest so a crash between registration and the
// next checkpoint loses nothing.
type FileDestroyer struct {
	mu       sync.Mutex
	manifest string
	records  []Record
	// latest is the most recent completed checkpoint timestamp.
	latest uint64
	log    *zap.SugaredLogger
}

// NewFileDestroyer loads (or creates) the destroyer rooted at dir.
func NewFileDestroyer(dir string, log *zap.SugaredLogger) (*FileDestroyer, error) {
	d := &FileDestroyer{
		manifest: filepath.Join(dir, "destroy.jsonl"),
		log:      log,
	}
	loaded, err := loadManifest(d.manifest)
	if err != nil {
		return nil, err
	}
	for _, w := range loaded.Warnings {
		log.Warn(w)
	}
	d.records = loaded.Records
	for _, rec := range d.records {
		if rec.Checkpoint > d.latest {
			d.latest = rec.Checkpoint
		}
	}
	return d, nil
}

// Latest returns the most recent completed checkpoint timestamp.
func (d *FileDestroyer) Latest() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

// Enter registers a destruction on behalf of tx, stamping it with the most
// recent checkpoint so Execute skips it until the next one completes.
func (d *FileDestroyer) Enter(tx *trans.Transaction, db types.DatabaseID, kind types.DestroyKind, path string, dirMode DirMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := Record{
		ID:         idgen.NewDestroyRecordID(tx.ID, path, time.Now().UTC(), 0),
		TxID:       tx.ID,
		DatabaseID: db,
		Kind:       kind,
		Path:       path,
		DirMode:    dirMode,
		Checkpoint: d.latest,
		Timestamp:  time.Now().UTC(),
	}
	if err := appendManifest(d.manifest, rec); err != nil {
		return err
	}
	d.records = append(d.records, rec)
	return nil
}

// Erase withdraws a pending destruction when the same transaction still
// owns it, the undo path of a canceled schema operation.
func (d *FileDestroyer) Erase(tx *trans.Transaction, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, rec := range d.records {
		if rec.Path == path && rec.TxID == tx.ID {
			if err := appendManifest(d.manifest, Record{ID: rec.ID, Op: "erase"}); err != nil {
				return err
			}
			d.records = append(d.records[:i], d.records[i+1:]...)
			return nil
		}
	}
	return nil
}

// Pending returns a snapshot of the queued records.
func (d *FileDestroyer) Pending() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// Execute runs from the checkpoint thread: it advances the checkpoint
// timestamp and destroys every record registered strictly before the
// previous checkpoint, or everything when force is set. Directories go
// last within a record batch so their contents disappear first. A failed
// destruction is logged and the record kept for the next attempt.
func (d *FileDestroyer) Execute(force bool) error {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.latest
	d.latest++

	due := make([]Record, 0, len(d.records))
	var kept []Record
	for _, rec := range d.records {
		if force || rec.Checkpoint < cutoff {
			due = append(due, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	// Files and logs first, directories last.
	sort.SliceStable(due, func(i, j int) bool {
		return (due[i].Kind != types.DestroyDirectory) && (due[j].Kind == types.DestroyDirectory)
	})
	for _, rec := range due {
		if err := d.destroyOne(rec); err != nil {
			d.log.Errorw("destroy failed, keeping record",
				"path", rec.Path, "kind", rec.Kind, "error", err)
			kept = append(kept, rec)
		}
	}
	d.records = kept
	if err := rewriteManifest(d.manifest, d.records); err != nil {
		return err
	}
	if observe.CheckpointDuration != nil {
		observe.CheckpointDuration.Record(context.Background(), time.Since(start).Seconds())
	}
	return nil
}

func (d *FileDestroyer) destroyOne(rec Record) error {
	switch rec.Kind {
	case types.DestroyDirectory:
		if rec.DirMode == DirAll {
			return os.RemoveAll(rec.Path)
		}
		return pruneEmptyDirs(rec.Path)
	default:
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
}

// pruneEmptyDirs removes directory trees bottom-up, stopping wherever a
// file remains.
func pruneEmptyDirs(root string) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := pruneEmptyDirs(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	entries, err = os.ReadDir(root)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return os.Remove(root)
	}
	return nil
}

// Watch signals on ch whenever the manifest changes on disk, so a
// checkpoint thread in another process's shadow can pick up registrations.
// It returns a stop function.
func (d *FileDestroyer) Watch(ch chan<- struct{}) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(d.manifest)); err != nil {
		watcher.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == d.manifest && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}, nil
}

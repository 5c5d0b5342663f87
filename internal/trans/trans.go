// Package trans carries the transaction handle the storage and indexing
// layers thread through every operation. The real transaction manager
// (MVCC read views, two-phase locking, write-ahead logging) lives outside
// this module; Transaction is the surface the engine consumes plus enough
// of an implementation to run the engine standalone and under test.
package trans

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LogCategory selects which logical log a record is written to.
type LogCategory int

const (
	LogSystem LogCategory = iota
	LogDatabase
)

// LogRecord is one entry appended to a logical log.
type LogRecord struct {
	Category LogCategory
	Kind     string
	Payload  []byte
	Written  time.Time
}

// LogFile is the logical-log surface the engine consumes. The engine never
// reads logs back itself; recovery drives it from outside.
type LogFile interface {
	Append(rec LogRecord) error
	Flush() error
	Rename(newPath string) error
	Destroy() error
	Path() string
}

// Transaction is the handle passed into every storage operation. It is
// owned by one session thread at a time; the canceled flag may be flipped
// from another thread, which is why it is atomic.
type Transaction struct {
	ID string

	canceled    atomic.Bool
	noLock      bool
	batchInsert atomic.Bool

	mu   sync.Mutex
	logs map[LogCategory]LogFile
}

// New begins a transaction with a fresh ID.
func New() *Transaction {
	return &Transaction{
		ID:   uuid.NewString(),
		logs: make(map[LogCategory]LogFile),
	}
}

// NewNoLock begins a transaction that skips lock acquisition, used by
// recovery redo where the process is single-threaded by construction.
func NewNoLock() *Transaction {
	t := New()
	t.noLock = true
	return t
}

// Cancel requests statement cancellation. Safe from any thread.
func (t *Transaction) Cancel() { t.canceled.Store(true) }

// IsCanceledStatement is polled at loop break points; a true return must
// make the caller unwind with a Canceled failure.
func (t *Transaction) IsCanceledStatement() bool { return t.canceled.Load() }

// IsNoLock reports whether lock acquisition is skipped.
func (t *Transaction) IsNoLock() bool { return t.noLock }

// BeginBatchInsert marks the start of a bulk-load region; files may relax
// per-tuple flushing until EndBatchInsert.
func (t *Transaction) BeginBatchInsert() { t.batchInsert.Store(true) }

// EndBatchInsert closes the bulk-load region.
func (t *Transaction) EndBatchInsert() { t.batchInsert.Store(false) }

// InBatchInsert reports whether a bulk-load region is open.
func (t *Transaction) InBatchInsert() bool { return t.batchInsert.Load() }

// SetLog binds the log file for a category, typically the database's own
// logical log once the database object is resolved.
func (t *Transaction) SetLog(cat LogCategory, lf LogFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs[cat] = lf
}

// Log returns the bound log file for a category, or nil.
func (t *Transaction) Log(cat LogCategory) LogFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logs[cat]
}

// FlushLog flushes the bound log for a category if one is bound.
func (t *Transaction) FlushLog(cat LogCategory) error {
	if lf := t.Log(cat); lf != nil {
		return lf.Flush()
	}
	return nil
}

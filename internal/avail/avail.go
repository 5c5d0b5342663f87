// Package avail is the process-wide availability registry: a boolean per
// (database, file) pair, with file id 0 standing for the database itself.
// Any subsystem hitting an unrecoverable error clears the flag; later
// operations on that name fail fast with DatabaseNotAvailable until a
// successful create, mount or backup end re-enables it.
package avail

import (
	"sync"

	"github.com/DoqueDB/sydney/internal/types"
)

type key struct {
	db   types.DatabaseID
	file types.FileID
}

// Registry tracks availability flags. The zero value is not usable; use
// NewRegistry, or the package-level default.
type Registry struct {
	mu       sync.Mutex
	disabled map[key]bool
}

// NewRegistry builds an empty registry with everything available.
func NewRegistry() *Registry {
	return &Registry{disabled: make(map[key]bool)}
}

// defaultRegistry is the process-wide instance.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// SetAvailability flips the flag for one file, or the whole database when
// file is 0.
func (r *Registry) SetAvailability(db types.DatabaseID, file types.FileID, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{db: db, file: file}
	if available {
		delete(r.disabled, k)
	} else {
		r.disabled[k] = true
	}
}

// IsAvailable reports whether the pair is usable: a file is unavailable if
// either its own flag or its database's flag is cleared.
func (r *Registry) IsAvailable(db types.DatabaseID, file types.FileID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled[key{db: db, file: 0}] {
		return false
	}
	if file != 0 && r.disabled[key{db: db, file: file}] {
		return false
	}
	return true
}

// SetDatabaseAvailability flips a whole database, clearing any stale
// per-file flags on re-enable.
func (r *Registry) SetDatabaseAvailability(db types.DatabaseID, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if available {
		for k := range r.disabled {
			if k.db == db {
				delete(r.disabled, k)
			}
		}
	} else {
		r.disabled[key{db: db, file: 0}] = true
	}
}

// AllAvailable reports system-wide availability: the AND across every
// database.
func (r *Registry) AllAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disabled) == 0
}

// Reset clears every flag; tests and recovery use it.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[key]bool)
}

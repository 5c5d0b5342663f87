package inverted

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/DoqueDB/sydney/internal/pagestore"
)

// Env resolves the physical page files a unit's sub-files live in. Disk
// environments root files under Dir; memory environments keep the files in
// the Env itself so a reopen within the process sees the same bytes, which
// is also how the restart tests simulate recovery.
type Env struct {
	Dir      string
	Mem      bool
	PageSize int

	mu    sync.Mutex
	files map[string]pagestore.File
}

// NewMemEnv builds an in-memory environment.
func NewMemEnv() *Env {
	return &Env{Mem: true, PageSize: pagestore.DefaultPageSize, files: make(map[string]pagestore.File)}
}

// NewDiskEnv builds a disk environment rooted at dir.
func NewDiskEnv(dir string) *Env {
	return &Env{Dir: dir, PageSize: pagestore.DefaultPageSize, files: make(map[string]pagestore.File)}
}

// File opens (or creates) the page file registered under name.
func (e *Env) File(name string) (pagestore.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.files[name]; ok {
		return f, nil
	}
	if e.Mem {
		f := pagestore.NewMemoryFile(name, e.PageSize)
		e.files[name] = f
		return f, nil
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(e.Dir, name+".syd")
	if _, err := os.Stat(path); err == nil {
		f, err := pagestore.OpenMmapFile(path)
		if err != nil {
			return nil, err
		}
		e.files[name] = f
		return f, nil
	}
	f, err := pagestore.CreateMmapFile(path, e.PageSize)
	if err != nil {
		return nil, err
	}
	e.files[name] = f
	return f, nil
}

// CloseAll closes every open file handle; the bytes stay behind for a
// later reopen. Memory environments keep their buffers.
func (e *Env) CloseAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, f := range e.files {
		if !e.Mem {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			delete(e.files, name)
		}
	}
	return firstErr
}

// Detach drops the handle for name without closing (memory) so a fresh
// File call reopens from disk; used by restart simulation.
func (e *Env) Detach(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
}

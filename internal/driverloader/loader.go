// Package driverloader is the ref-counted shared-library loader file
// drivers plug in through. Loads are serialized under one process-wide
// mutex: driver constructors may themselves reach back into the loader,
// and two racing dlopen calls of the same library must not both run its
// initializer. Library handles are cached by normalized name and reused
// until their reference count drops to zero.
package driverloader

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/idgen"
)

// Library is one loaded shared library.
type Library struct {
	Name   string
	Handle uintptr
	ID     string
	refs   int
}

// Registry is the loader. Use the package Default for production; tests
// construct their own with a fake dlopen.
type Registry struct {
	mu   sync.Mutex
	libs map[string]*Library

	// open and lookup are the platform hooks, replaceable in tests.
	open   func(name string) (uintptr, error)
	lookup func(handle uintptr, symbol string) (uintptr, error)
	close  func(handle uintptr) error
}

// NewRegistry builds a registry over the platform's loader primitives.
func NewRegistry() *Registry {
	return &Registry{
		libs:   make(map[string]*Library),
		open:   dlopen,
		lookup: dlsym,
		close:  dlclose,
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// normalize applies the platform prefix and suffix conventions: a bare
// name gains lib-/.so (or .dylib, .dll) as the platform wants.
func normalize(name string) string {
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, ".") {
		return name
	}
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// Load opens (or references) the named library. Transient loader failures
// retry briefly with backoff before surfacing.
func (r *Registry) Load(name string) (*Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := normalize(name)
	if lib, ok := r.libs[full]; ok {
		lib.refs++
		return lib, nil
	}
	var handle uintptr
	op := func() error {
		h, err := r.open(full)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return nil, errs.New(errs.NotSupported, "driverloader.load",
			fmt.Errorf("library %s: %w", full, err))
	}
	lib := &Library{
		Name:   full,
		Handle: handle,
		ID:     idgen.NewDriverHandleID(full, time.Now().UTC(), 0),
		refs:   1,
	}
	r.libs[full] = lib
	return lib, nil
}

// GetFunction resolves a symbol in a loaded library. A missing library and
// a missing symbol fail with distinct kinds so callers can tell
// misconfiguration from version skew.
func (r *Registry) GetFunction(name, symbol string) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := normalize(name)
	lib, ok := r.libs[full]
	if !ok {
		return 0, errs.New(errs.NotSupported, "driverloader.getfunction",
			fmt.Errorf("library %s not loaded", full))
	}
	addr, err := r.lookup(lib.Handle, symbol)
	if err != nil {
		return 0, errs.New(errs.BadArgument, "driverloader.getfunction",
			fmt.Errorf("symbol %s in %s: %w", symbol, full, err))
	}
	return addr, nil
}

// Release drops one reference; the library unloads at zero.
func (r *Registry) Release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := normalize(name)
	lib, ok := r.libs[full]
	if !ok {
		return nil
	}
	lib.refs--
	if lib.refs > 0 {
		return nil
	}
	delete(r.libs, full)
	return r.close(lib.Handle)
}

// Refs reports the reference count, for tests and diagnostics.
func (r *Registry) Refs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib, ok := r.libs[normalize(name)]; ok {
		return lib.refs
	}
	return 0
}

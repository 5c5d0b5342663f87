// Package config holds Sydney's runtime configuration: lazily-resolved
// parameter cells backed by viper, and the TOML area/path definition
// file an installation's databases are rooted under.
package config

import "sync"

// Parameter is a lazily initialized, cached configuration cell, the Go
// analog of the reference implementation's ParameterString/ParameterInteger
// family: the key is resolved against the Store on first Get and cached
// until Invalidate is called, so a hot path (e.g. the merge worker checking
// FullText_InsertMergeFileSize on every insert) does not re-hit viper.
type Parameter[T any] struct {
	key     string
	def     T
	resolve func(store *Store, key string, def T) T

	mu      sync.RWMutex
	cached  bool
	value   T
}

// NewParameter builds a Parameter cell for key, falling back to def when
// the store has no value, using resolve to pull the typed value out of the
// store (so int/bool/duration parameters all share this type).
func NewParameter[T any](key string, def T, resolve func(store *Store, key string, def T) T) *Parameter[T] {
	return &Parameter[T]{key: key, def: def, resolve: resolve}
}

// Get resolves the parameter against store, caching the result.
func (p *Parameter[T]) Get(store *Store) T {
	p.mu.RLock()
	if p.cached {
		v := p.value
		p.mu.RUnlock()
		return v
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cached {
		p.value = p.resolve(store, p.key, p.def)
		p.cached = true
	}
	return p.value
}

// Invalidate drops the cached value, forcing the next Get to re-read the
// store. Called when an administrator changes a parameter at runtime.
func (p *Parameter[T]) Invalidate() {
	p.mu.Lock()
	p.cached = false
	p.mu.Unlock()
}

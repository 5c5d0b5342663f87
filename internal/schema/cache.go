package schema

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// objectCaches holds a database's per-kind schema object maps plus the
// general child cache. Guarded by the owning Database's lock for writes;
// reads go through the accessor methods.
type objectCaches struct {
	mu         sync.RWMutex
	areas      map[string]any
	tables     map[string]any
	cascades   map[string]any
	partitions map[string]any
	functions  map[string]any
	privileges map[string]any
	children   map[uint32]any

	frozen []byte // compressed image while the cache is out of memory
}

func newObjectCaches() *objectCaches {
	return &objectCaches{
		areas:      make(map[string]any),
		tables:     make(map[string]any),
		cascades:   make(map[string]any),
		partitions: make(map[string]any),
		functions:  make(map[string]any),
		privileges: make(map[string]any),
		children:   make(map[uint32]any),
	}
}

// Ref takes a session reference on the database's caches.
func (d *Database) Ref() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs++
}

// Unref drops one session reference. At zero the caller decides between
// immediate clearing (cache cap exceeded), delayed clearing, or freezing.
func (d *Database) Unref() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs > 0 {
		d.refs--
	}
	return d.refs
}

// ClearCaches frees every cached schema object.
func (d *Database) ClearCaches() {
	d.caches.mu.Lock()
	defer d.caches.mu.Unlock()
	*d.caches = *newObjectCaches()
}

// frozenImage is the gob shape of a frozen cache. Only the string-keyed
// maps freeze; child objects are reloaded from the catalog on melt.
type frozenImage struct {
	Areas      map[string]string
	Tables     map[string]string
	Cascades   map[string]string
	Partitions map[string]string
	Functions  map[string]string
	Privileges map[string]string
}

// Freeze serializes and compresses the caches, then drops the live maps.
// The frozen image melts back on the next access. Cached values must be
// strings (catalog rows serialized by their loaders) to freeze; anything
// else is dropped and reloaded lazily instead.
func (c *objectCaches) Freeze() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := frozenImage{
		Areas:      stringValues(c.areas),
		Tables:     stringValues(c.tables),
		Cascades:   stringValues(c.cascades),
		Partitions: stringValues(c.partitions),
		Functions:  stringValues(c.functions),
		Privileges: stringValues(c.privileges),
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(img); err != nil {
		return fmt.Errorf("schema: freeze encode: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	c.frozen = enc.EncodeAll(raw.Bytes(), nil)
	enc.Close()
	c.areas = make(map[string]any)
	c.tables = make(map[string]any)
	c.cascades = make(map[string]any)
	c.partitions = make(map[string]any)
	c.functions = make(map[string]any)
	c.privileges = make(map[string]any)
	c.children = make(map[uint32]any)
	return nil
}

// Melt decompresses and restores a frozen cache; a cache that was never
// frozen is a no-op.
func (c *objectCaches) Melt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen == nil {
		return nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	raw, err := dec.DecodeAll(c.frozen, nil)
	dec.Close()
	if err != nil {
		return fmt.Errorf("schema: melt decompress: %w", err)
	}
	var img frozenImage
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&img); err != nil {
		return fmt.Errorf("schema: melt decode: %w", err)
	}
	c.areas = anyValues(img.Areas)
	c.tables = anyValues(img.Tables)
	c.cascades = anyValues(img.Cascades)
	c.partitions = anyValues(img.Partitions)
	c.functions = anyValues(img.Functions)
	c.privileges = anyValues(img.Privileges)
	c.frozen = nil
	return nil
}

// Frozen reports whether the cache is currently frozen.
func (c *objectCaches) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen != nil
}

func stringValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func anyValues(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CacheTable stores a table object in the cache.
func (d *Database) CacheTable(name string, v any) {
	d.caches.mu.Lock()
	defer d.caches.mu.Unlock()
	d.caches.tables[name] = v
}

// CachedTable reads a table object, melting a frozen cache first.
func (d *Database) CachedTable(name string) (any, bool, error) {
	if err := d.caches.Melt(); err != nil {
		return nil, false, err
	}
	d.caches.mu.RLock()
	defer d.caches.mu.RUnlock()
	v, ok := d.caches.tables[name]
	return v, ok, nil
}

// Caches exposes the cache container, mainly to tests.
func (d *Database) Caches() *objectCaches { return d.caches }

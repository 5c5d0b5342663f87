package schema

import (
	"database/sql"
	"sync"

	"github.com/DoqueDB/sydney/internal/errs"
)

// Sequence is the per-database monotonically increasing 32-bit generator
// backing object ids and doc ids. The durable value lives in the catalog's
// sequence table; a cache cell avoids a round trip per id.
type Sequence struct {
	mu      sync.Mutex
	catalog *Catalog
	name    string
	cached  uint32
	loaded  bool
}

// NewSequence binds (creating if absent) the named sequence.
func NewSequence(catalog *Catalog, name string) *Sequence {
	return &Sequence{catalog: catalog, name: name}
}

func (s *Sequence) load() error {
	if s.loaded {
		return nil
	}
	var v uint32
	err := s.catalog.QueryRow(
		"SELECT value FROM sydney_sequence WHERE name = ?", s.name).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.catalog.Exec(
			"INSERT INTO sydney_sequence (name, value) VALUES (?, 0)", s.name); err != nil {
			return err
		}
		v = 0
	case err != nil:
		return err
	}
	s.cached = v
	s.loaded = true
	return nil
}

// Next hands out the next id and persists the new high-water.
func (s *Sequence) Next() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	if s.cached == 0xFFFFFFFF {
		return 0, errs.New(errs.Unexpected, "schema.sequence.next", nil)
	}
	s.cached++
	if _, err := s.catalog.Exec(
		"UPDATE sydney_sequence SET value = ? WHERE name = ?", s.cached, s.name); err != nil {
		s.cached--
		return 0, err
	}
	return s.cached, nil
}

// Current returns the last handed-out id without advancing.
func (s *Sequence) Current() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.cached, nil
}

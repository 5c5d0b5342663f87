package schema

import (
	"sync"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/types"
)

// MergeDaemon is what super-user mode pauses: the merge queue's stop and
// start hooks.
type MergeDaemon interface {
	Stop()
	Start()
}

// superUserMap is the process-wide transitional-state map: which session
// holds exclusive DDL rights on which database. Entering stops the merge
// daemon; exiting restarts it.
type superUserMap struct {
	mu     sync.Mutex
	holder map[types.DatabaseID]string
	daemon MergeDaemon
}

func newSuperUserMap() *superUserMap {
	return &superUserMap{holder: make(map[types.DatabaseID]string)}
}

// SetMergeDaemon installs the daemon pause hooks on the manager.
func (m *Manager) SetMergeDaemon(d MergeDaemon) {
	m.super.mu.Lock()
	defer m.super.mu.Unlock()
	m.super.daemon = d
}

func (s *superUserMap) enter(db *Database, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, held := s.holder[db.ID]; held && holder != sessionID {
		return errs.New(errs.Canceled, "schema.superuser.enter", nil)
	}
	s.holder[db.ID] = sessionID
	if s.daemon != nil && len(s.holder) == 1 {
		s.daemon.Stop()
	}
	return nil
}

func (s *superUserMap) exit(db *Database) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holder, db.ID)
	if s.daemon != nil && len(s.holder) == 0 {
		s.daemon.Start()
	}
}

// CheckDDL fails with Canceled when another session holds the database's
// transitional state; DDL callers check before proceeding.
func (m *Manager) CheckDDL(db *Database, sessionID string) error {
	m.super.mu.Lock()
	defer m.super.mu.Unlock()
	if holder, held := m.super.holder[db.ID]; held && holder != sessionID {
		return errs.New(errs.Canceled, "schema.superuser.check", nil)
	}
	return nil
}

package avail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileInheritsDatabaseFlag(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsAvailable(1, 5))

	// Clearing the database (file 0) takes every file with it.
	r.SetAvailability(1, 0, false)
	assert.False(t, r.IsAvailable(1, 0))
	assert.False(t, r.IsAvailable(1, 5))
	assert.True(t, r.IsAvailable(2, 5))

	r.SetAvailability(1, 0, true)
	assert.True(t, r.IsAvailable(1, 5))
}

func TestPerFileFlag(t *testing.T) {
	r := NewRegistry()
	r.SetAvailability(1, 5, false)
	assert.False(t, r.IsAvailable(1, 5))
	assert.True(t, r.IsAvailable(1, 6))
	assert.True(t, r.IsAvailable(1, 0))
}

func TestSystemAvailabilityIsTheAnd(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.AllAvailable())
	r.SetAvailability(3, 0, false)
	assert.False(t, r.AllAvailable())
	r.SetDatabaseAvailability(3, true)
	assert.True(t, r.AllAvailable())
}

func TestDatabaseReenableClearsStaleFileFlags(t *testing.T) {
	r := NewRegistry()
	r.SetAvailability(1, 5, false)
	r.SetDatabaseAvailability(1, false)
	// A successful create or mount re-enables everything under the db.
	r.SetDatabaseAvailability(1, true)
	assert.True(t, r.IsAvailable(1, 5))
}

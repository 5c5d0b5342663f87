package driverloader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoqueDB/sydney/internal/errs"
)

// fakeRegistry wires test doubles for the platform hooks.
func fakeRegistry(openErr error) (*Registry, *int) {
	closed := 0
	r := NewRegistry()
	r.open = func(name string) (uintptr, error) {
		if openErr != nil {
			return 0, openErr
		}
		return 0x1000, nil
	}
	r.lookup = func(handle uintptr, symbol string) (uintptr, error) {
		if symbol == "missing" {
			return 0, errors.New("undefined symbol")
		}
		return 0x2000, nil
	}
	r.close = func(handle uintptr) error {
		closed++
		return nil
	}
	return r, &closed
}

func TestLoadReferenceCounting(t *testing.T) {
	r, closed := fakeRegistry(nil)

	lib, err := r.Load("ftsdrv")
	require.NoError(t, err)
	assert.Equal(t, normalize("ftsdrv"), lib.Name)

	_, err = r.Load("ftsdrv")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Refs("ftsdrv"))

	require.NoError(t, r.Release("ftsdrv"))
	assert.Equal(t, 1, r.Refs("ftsdrv"))
	assert.Equal(t, 0, *closed)

	require.NoError(t, r.Release("ftsdrv"))
	assert.Equal(t, 0, r.Refs("ftsdrv"))
	assert.Equal(t, 1, *closed)
}

func TestGetFunctionErrorKinds(t *testing.T) {
	r, _ := fakeRegistry(nil)

	// Library not loaded yet.
	_, err := r.GetFunction("ftsdrv", "init")
	assert.True(t, errs.Of(err, errs.NotSupported))

	_, err = r.Load("ftsdrv")
	require.NoError(t, err)

	addr, err := r.GetFunction("ftsdrv", "init")
	require.NoError(t, err)
	assert.NotZero(t, addr)

	// Loaded library, unknown symbol: a different kind.
	_, err = r.GetFunction("ftsdrv", "missing")
	assert.True(t, errs.Of(err, errs.BadArgument))
}

func TestLoadFailureSurfacesAfterRetry(t *testing.T) {
	r, _ := fakeRegistry(errors.New("no such file"))
	_, err := r.Load("absent")
	assert.True(t, errs.Of(err, errs.NotSupported))
}

func TestNormalizeLeavesPathsAlone(t *testing.T) {
	assert.Equal(t, "/opt/drv/custom.so", normalize("/opt/drv/custom.so"))
	assert.Equal(t, "already.so", normalize("already.so"))
}

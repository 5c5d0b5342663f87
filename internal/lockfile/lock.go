// Package lockfile provides the two kinds of advisory file locks Sydney
// takes outside of its page store: the per-database mount lock (one process
// may have a given database mounted at a time) and the merge worker's
// per-logical-index latch (only one merge may run against a given
// DelayIndexFile at a time). Both are backed by flock(2)/LockFileEx,
// split by platform.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// errProcessLocked is returned by the platform-specific flockExclusive when
// the lock is already held by a live process.
var errProcessLocked = errors.New("lock already held by another process")

// ErrLocked is returned when a lock cannot be acquired because it is held by another process.
var ErrLocked = errProcessLocked

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked returns true if the error indicates a lock is held by another process.
func IsLocked(err error) bool {
	return err == errProcessLocked
}

// MountLock guards a single database's mount path. Acquire with
// AcquireMountLock; release with Release.
type MountLock struct {
	file *os.File
	path string
}

// AcquireMountLock takes the exclusive, non-blocking mount lock at path,
// creating the lock file if needed and writing the current PID into it so a
// later caller can tell whether a lock left behind by a crashed process is
// safe to break (see BreakStaleMountLock).
func AcquireMountLock(path string) (*MountLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open mount lock %s: %w", path, err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	return &MountLock{file: f, path: path}, nil
}

// Release drops the mount lock and closes the backing file.
func (m *MountLock) Release() error {
	if err := FlockUnlock(m.file); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// BreakStaleMountLock reports whether the mount lock file at path was left
// by a process that is no longer running, in which case it is safe for
// recovery to remove the file and retry AcquireMountLock. It never removes
// the file itself; the caller decides.
func BreakStaleMountLock(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, nil
	}
	return !isProcessRunning(pid), nil
}

// MergeLatch guards one DelayIndexFile against concurrent merges.
type MergeLatch struct {
	file *os.File
}

// AcquireMergeLatch takes a non-blocking exclusive latch for the
// DelayIndexFile whose on-disk state lives under dir. It returns
// ErrLockBusy if another process already holds the latch, so a second
// merge against the same index fails fast instead of waiting on it.
func AcquireMergeLatch(dir string) (*MergeLatch, error) {
	path := dir + string(os.PathSeparator) + ".merge.lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open merge latch %s: %w", path, err)
	}
	if err := FlockExclusiveNonBlock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &MergeLatch{file: f}, nil
}

// Release drops the merge latch.
func (m *MergeLatch) Release() error {
	if err := FlockUnlock(m.file); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

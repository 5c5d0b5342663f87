package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireMountLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.mount")

	lock, err := AcquireMountLock(path)
	if err != nil {
		t.Fatalf("AcquireMountLock: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected mount lock file to contain a PID")
	}
}

func TestAcquireMergeLatch(t *testing.T) {
	dir := t.TempDir()

	latch, err := AcquireMergeLatch(dir)
	if err != nil {
		t.Fatalf("AcquireMergeLatch: %v", err)
	}
	defer latch.Release()

	if _, err := AcquireMergeLatch(dir); err == nil {
		t.Error("expected second AcquireMergeLatch on same dir to fail while first is held")
	} else if !IsLocked(err) && err != ErrLockBusy {
		t.Errorf("expected a lock-held error, got %v", err)
	}
}

func TestBreakStaleMountLockMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mount")

	stale, err := BreakStaleMountLock(path)
	if err != nil {
		t.Fatalf("BreakStaleMountLock: %v", err)
	}
	if stale {
		t.Error("expected a missing lock file to not be reported stale")
	}
}

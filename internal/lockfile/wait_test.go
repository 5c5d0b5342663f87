package lockfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DoqueDB/sydney/internal/errs"
)

func TestWaitTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mount.lock")
	held, err := AcquireMountLock(path)
	if err != nil {
		t.Fatalf("AcquireMountLock: %v", err)
	}
	defer held.Release()

	_, err = AcquireMountLockWait(path, 50*time.Millisecond, 10*time.Millisecond, nil)
	if !errs.Of(err, errs.LockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
}

func TestWaitUnlimitedHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mount.lock")
	held, err := AcquireMountLock(path)
	if err != nil {
		t.Fatalf("AcquireMountLock: %v", err)
	}
	defer held.Release()

	polls := 0
	_, err = AcquireMountLockWait(path, Unlimited, time.Millisecond, func() bool {
		polls++
		return polls > 3
	})
	if !errs.Of(err, errs.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

func TestWaitAcquiresWhenFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mount.lock")
	lock, err := AcquireMountLockWait(path, time.Second, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("AcquireMountLockWait: %v", err)
	}
	lock.Release()
}

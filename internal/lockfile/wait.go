package lockfile

import (
	"errors"
	"time"

	"github.com/DoqueDB/sydney/internal/errs"
)

// Unlimited asks AcquireMountLockWait to wait forever, polling for
// cancellation between attempts.
const Unlimited time.Duration = 0

// AcquireMountLockWait acquires the mount lock with a bounded wait: the
// non-blocking acquire retries every poll interval until timeout expires.
// Unlimited repeats the bounded wait indefinitely, checking canceled
// between rounds so a canceled statement unwinds instead of spinning.
func AcquireMountLockWait(path string, timeout, poll time.Duration, canceled func() bool) (*MountLock, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Time{}
	if timeout != Unlimited {
		deadline = time.Now().Add(timeout)
	}
	for {
		lock, err := AcquireMountLock(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, errProcessLocked) {
			return nil, err
		}
		if canceled != nil && canceled() {
			return nil, errs.New(errs.Canceled, "lockfile.wait", nil)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, errs.New(errs.LockTimeout, "lockfile.wait", nil)
		}
		time.Sleep(poll)
	}
}

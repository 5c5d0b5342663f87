//go:build unix || linux || darwin

package lockfile

import (
	"syscall"
)

// isProcessRunning reports whether the process that wrote its PID into a
// mount lock file is still alive, used by BreakStaleMountLock to decide
// whether a leftover lock is safe to clear during recovery.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // Invalid PID (0 would signal our process group, not a specific process)
	}
	return syscall.Kill(pid, 0) == nil
}

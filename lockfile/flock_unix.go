//go:build unix

package lockfile

import (
	"errors"
	"os"
	"syscall"
)

// flock takes an exclusive advisory lock without blocking, so the caller's
// retry loop stays cancellable.
func flock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return ErrLockHeld
	}
	return err
}

func unflock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

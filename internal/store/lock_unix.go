//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/strata/internal/domain"
)

// LockName is the advisory lock file inside a store directory.
const LockName = ".lock"

// Lock takes an exclusive, non-blocking advisory lock on dir. It returns an
// error wrapping domain.ErrLocked when another process holds it. The lock is
// released by the returned func or when the process exits.
//
//nolint:gosec // G115: fd values are small non-negative integers
func Lock(dir string) (func() error, error) {
	f, err := os.OpenFile(filepath.Join(dir, LockName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", dir, domain.ErrLocked)
		}
		return nil, fmt.Errorf("flock %s: %w", dir, err)
	}
	return func() error {
		//nolint:errcheck // closing the fd drops the lock anyway
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}, nil
}

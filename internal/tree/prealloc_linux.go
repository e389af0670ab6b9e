//go:build linux

package tree

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for f. fallocate is advisory and not
// every filesystem supports it, so errors are ignored.
func preallocate(f *os.File, size int64) {
	//nolint:errcheck // advisory
	unix.Fallocate(int(f.Fd()), 0, 0, size)
}

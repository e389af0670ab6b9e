//go:build !unix

package store

// LockName is the advisory lock file inside a store directory.
const LockName = ".lock"

// Lock is a no-op where flock is unavailable; a single writer is assumed.
func Lock(_ string) (func() error, error) {
	return func() error { return nil }, nil
}

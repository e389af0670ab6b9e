package domain

import (
	"bytes"
	"sort"
)

// FileSet maps a relative POSIX path to the full content of that file.
type FileSet map[string][]byte

// Clone returns a copy of the set. Content slices are shared; callers must
// treat them as read-only.
func (fs FileSet) Clone() FileSet {
	out := make(FileSet, len(fs))
	for p, b := range fs {
		out[p] = b
	}
	return out
}

// Equal reports whether both sets hold the same paths with identical bytes.
func (fs FileSet) Equal(other FileSet) bool {
	if len(fs) != len(other) {
		return false
	}
	for p, b := range fs {
		ob, ok := other[p]
		if !ok || !bytes.Equal(b, ob) {
			return false
		}
	}
	return true
}

// Paths returns the paths in ascending order.
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Size returns the total content size in bytes.
func (fs FileSet) Size() int64 {
	var n int64
	for _, b := range fs {
		n += int64(len(b))
	}
	return n
}

// Change is one entry of a Diff: either replacement content or a deletion.
// A replacement with empty Content is an empty file, not a deletion.
type Change struct {
	Content []byte
	Deleted bool
}

// Replace returns a Change that sets a path to b.
func Replace(b []byte) Change {
	if b == nil {
		b = []byte{}
	}
	return Change{Content: b}
}

// Delete returns the deletion marker.
func Delete() Change {
	return Change{Deleted: true}
}

// Equal reports whether two changes are identical.
func (c Change) Equal(other Change) bool {
	if c.Deleted || other.Deleted {
		return c.Deleted == other.Deleted
	}
	return bytes.Equal(c.Content, other.Content)
}

// Diff maps a path to the change that turns an older FileSet into a newer one.
type Diff map[string]Change

// Counts returns the number of replacements and deletions in the diff.
func (d Diff) Counts() (replaced, deleted int) {
	for _, c := range d {
		if c.Deleted {
			deleted++
		} else {
			replaced++
		}
	}
	return replaced, deleted
}

// Paths returns the changed paths in ascending order.
func (d Diff) Paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether both diffs hold the same changes.
func (d Diff) Equal(other Diff) bool {
	if len(d) != len(other) {
		return false
	}
	for p, c := range d {
		oc, ok := other[p]
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}

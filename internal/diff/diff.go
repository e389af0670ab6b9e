// Package diff computes whole-file forward diffs between FileSets and
// replays them.
package diff

import (
	"bytes"

	"github.com/bamsammich/strata/internal/domain"
)

// Create returns the changes that turn old into new. Paths whose content is
// identical in both sets are omitted.
func Create(old, new domain.FileSet) domain.Diff {
	d := make(domain.Diff)
	for p, content := range new {
		if prev, ok := old[p]; ok && bytes.Equal(prev, content) {
			continue
		}
		d[p] = domain.Replace(content)
	}
	for p := range old {
		if _, ok := new[p]; !ok {
			d[p] = domain.Delete()
		}
	}
	return d
}

// Apply returns a copy of base with d applied. Deleting a path that is not
// present is not an error.
func Apply(base domain.FileSet, d domain.Diff) domain.FileSet {
	out := base.Clone()
	for p, c := range d {
		if c.Deleted {
			delete(out, p)
			continue
		}
		out[p] = c.Content
	}
	return out
}

// Replay folds Apply over diffs, oldest first, starting from an empty set.
func Replay(diffs ...domain.Diff) domain.FileSet {
	state := make(domain.FileSet)
	for _, d := range diffs {
		state = applyInPlace(state, d)
	}
	return state
}

func applyInPlace(state domain.FileSet, d domain.Diff) domain.FileSet {
	for p, c := range d {
		if c.Deleted {
			delete(state, p)
			continue
		}
		state[p] = c.Content
	}
	return state
}

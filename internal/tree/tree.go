// Package tree reads a directory tree into a FileSet and writes a FileSet
// back to disk.
//
// Only regular file contents are captured. Symlinks are followed: a link to
// a file is captured under the link's own path, a link to a directory is
// descended. Symlink cycles are not detected; such a tree fails with an I/O
// error once the path grows too long.
package tree

import (
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

func defaultWorkers(n int) int {
	if n > 0 {
		return n
	}
	return min(runtime.NumCPU(), 8)
}

// dirSet holds slash-separated directories relative to a tree root.
type dirSet []string

func newDirSet(dirs []string) dirSet {
	out := make(dirSet, 0, len(dirs))
	for _, d := range dirs {
		d = path.Clean(filepath.ToSlash(d))
		if d == "." || d == "" || strings.HasPrefix(d, "../") || d == ".." || path.IsAbs(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// contains reports whether rel is one of the directories or lies inside one.
func (s dirSet) contains(rel string) bool {
	for _, d := range s {
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

// joinRel joins a slash-separated parent and child name.
func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

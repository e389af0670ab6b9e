package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile is the per-tree rule file read from the root of a snapshotted
// directory.
const IgnoreFile = ".strataignore"

// Read appends rules from r. Each non-blank line that does not start with #
// is one rule:
//
//	+ pattern        include
//	- pattern        exclude
//	include pattern  include
//	exclude pattern  exclude
//	pattern          exclude
//
// name labels errors.
func (c *Chain) Read(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		include, pat := splitRule(text)
		if err := c.add(pat, include); err != nil {
			return fmt.Errorf("%s:%d: %w", name, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func splitRule(text string) (include bool, pat string) {
	for _, p := range []struct {
		prefix  string
		include bool
	}{
		{"+ ", true},
		{"- ", false},
		{"include ", true},
		{"exclude ", false},
	} {
		if rest, ok := strings.CutPrefix(text, p.prefix); ok {
			return p.include, strings.TrimSpace(rest)
		}
	}
	return false, text
}

// LoadFile appends the rules in the file at path.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()
	return c.Read(f, path)
}

// LoadIgnoreFile appends the rules of root's .strataignore, if there is
// one. It reports whether the file existed.
func (c *Chain) LoadIgnoreFile(root string) (bool, error) {
	path := filepath.Join(root, IgnoreFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := c.LoadFile(path); err != nil {
		return false, err
	}
	return true, nil
}

// Package filter decides which paths of a tree take part in a snapshot,
// using rsync-style include/exclude rules.
package filter

// rule is one include or exclude pattern.
type rule struct {
	pat     *pattern
	include bool
}

// Chain is an ordered rule list. The first rule matching a path decides
// whether it is kept; a path no rule matches is kept. An optional size cap
// drops regular files larger than the limit.
type Chain struct {
	rules   []rule
	maxSize int64
}

// NewChain creates an empty chain that keeps everything.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude appends a rule dropping paths that match pattern.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude appends a rule keeping paths that match pattern.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

func (c *Chain) add(p string, include bool) error {
	pat, err := compile(p)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, rule{pat: pat, include: include})
	return nil
}

// SetMaxSize drops regular files larger than n bytes. Zero disables the cap.
func (c *Chain) SetMaxSize(n int64) {
	c.maxSize = n
}

// Len returns the number of pattern rules.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Empty reports whether the chain keeps every path.
func (c *Chain) Empty() bool {
	return c == nil || (len(c.rules) == 0 && c.maxSize == 0)
}

// Clone returns an independent copy, so rules can be appended without
// affecting the original.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return NewChain()
	}
	out := &Chain{maxSize: c.maxSize, rules: make([]rule, len(c.rules))}
	copy(out.rules, c.rules)
	return out
}

// Keep reports whether relPath (slash-separated, relative to the tree
// root) takes part in a snapshot. size is ignored for directories. A nil
// chain keeps everything.
func (c *Chain) Keep(relPath string, isDir bool, size int64) bool {
	if c == nil {
		return true
	}
	if !isDir && c.maxSize > 0 && size > c.maxSize {
		return false
	}
	for _, r := range c.rules {
		if r.pat.matches(relPath, isDir) {
			return r.include
		}
	}
	return true
}

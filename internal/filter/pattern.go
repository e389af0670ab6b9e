package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// pattern is an rsync-style glob compiled to a regexp.
//
// A trailing / restricts the pattern to directories. A leading / or any
// inner / anchors it at the tree root; otherwise it matches the final path
// component or any trailing run of components.
type pattern struct {
	src     string
	re      *regexp.Regexp
	dirOnly bool
}

func compile(src string) (*pattern, error) {
	p := &pattern{src: src}
	glob := src
	if glob == "" || glob == "/" {
		return nil, fmt.Errorf("empty filter pattern")
	}

	if strings.HasSuffix(glob, "/") {
		p.dirOnly = true
		glob = strings.TrimSuffix(glob, "/")
	}

	anchored := strings.Contains(glob, "/")
	glob = strings.TrimPrefix(glob, "/")

	prefix := "(^|/)"
	if anchored {
		prefix = "^"
	}
	re, err := regexp.Compile(prefix + translate(glob) + "$")
	if err != nil {
		return nil, fmt.Errorf("filter pattern %q: %w", src, err)
	}
	p.re = re
	return p, nil
}

func (p *pattern) matches(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	return p.re.MatchString(relPath)
}

func (p *pattern) String() string { return p.src }

// translate rewrites glob syntax as regexp syntax:
//
//	**/  zero or more leading directories
//	**   anything, including /
//	*    anything within one component
//	?    one character other than /
//	[..] a character class, with ! for negation
//	\x   a literal x
func translate(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(.*/)?")
			i += 2
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '\\' && i+1 < len(glob):
			i++
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		case c == '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		}
	}
	return b.String()
}

// classEnd returns the index of the ] closing the class opened at start, or
// -1 when it is unterminated. A ] right after [ or [! is a literal member.
func classEnd(glob string, start int) int {
	j := start + 1
	if j < len(glob) && glob[j] == '!' {
		j++
	}
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	for ; j < len(glob); j++ {
		if glob[j] == ']' {
			return j
		}
	}
	return -1
}

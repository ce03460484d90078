// Package gitignore matches paths against gitignore-style pattern lists.
//
// The watch command reads .gitignore and .suggestignore at the watched root
// and skips every path they exclude. Supported syntax: comments, negation
// (!), directory-only patterns (dir/), anchoring (/x or a/b), the wildcards
// *, ? and **, and character classes. A later rule overrides an earlier one,
// and a matched directory excludes everything below it.
package gitignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFiles are the pattern files LoadDir reads, in order.
var IgnoreFiles = []string{".gitignore", ".suggestignore"}

// Matcher is an ordered list of compiled rules. It is not safe to add rules
// while matching; build it first.
type Matcher struct {
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// New returns a matcher for patterns.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// LoadDir builds a matcher from the IgnoreFiles present in dir. Missing
// files are skipped.
func LoadDir(dir string) (*Matcher, error) {
	m := New()
	for _, name := range IgnoreFiles {
		if err := m.AddFile(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return m, nil
}

// AddFile adds every pattern line of the file at path.
func (m *Matcher) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// Add compiles one pattern line. Blank lines and comments are ignored.
func (m *Matcher) Add(line string) {
	// "\ " keeps one trailing space; any other trailing whitespace goes.
	keepSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if keepSpace {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimLeft(p, "/")
	}
	if strings.Contains(p, "/") {
		r.anchored = true
	}
	if p == "" {
		return
	}

	re, err := regexp.Compile("^" + translate(p) + "$")
	if err != nil {
		// Only an unbalanced character class gets here; git ignores such
		// a line too.
		return
	}
	r.re = re
	m.rules = append(m.rules, r)
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match reports whether relPath (slash or OS separated, relative to the
// pattern root) is ignored. A nil matcher ignores nothing.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m.Len() == 0 {
		return false
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(relPath)), "/")

	ignored := false
	for _, r := range m.rules {
		if r.matches(parts, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches tries the rule on the path and each of its ancestors.
func (r rule) matches(parts []string, isDir bool) bool {
	for i := range parts {
		last := i == len(parts)-1
		if r.dirOnly && last && !isDir {
			continue
		}
		subject := parts[i]
		if r.anchored {
			subject = strings.Join(parts[:i+1], "/")
		}
		if r.re.MatchString(subject) {
			return true
		}
	}
	return false
}

// translate converts a glob to a regular expression body.
func translate(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' && (i == 0 || glob[i-1] == '/') {
				switch {
				case i+2 == len(glob):
					b.WriteString(".*")
					i++
					continue
				case glob[i+2] == '/':
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

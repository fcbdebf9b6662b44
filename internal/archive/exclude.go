package archive

import (
	"path"
	"strings"
)

// Matcher decides whether an archive entry is excluded.
//
// Patterns with a leading slash are anchored at the filesystem root and are
// matched against the entry and each of its ancestors, so "/proc/*" drops
// everything below /proc but keeps /proc itself. Other patterns match any
// trailing run of path components, so ".cache" drops every .cache directory.
type Matcher struct {
	anchored   []string
	unanchored []string
}

// NewMatcher compiles exclusion patterns. Empty patterns are ignored.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if strings.HasPrefix(p, "/") {
			m.anchored = append(m.anchored, strings.TrimSuffix(strings.TrimLeft(p, "/"), "/"))
		} else {
			m.unanchored = append(m.unanchored, strings.TrimSuffix(p, "/"))
		}
	}
	return m
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.anchored)+len(m.unanchored) == 0
}

// Patterns returns the compiled patterns, anchored ones with their leading slash.
func (m *Matcher) Patterns() (anchored, unanchored []string) {
	if m == nil {
		return nil, nil
	}
	for _, p := range m.anchored {
		anchored = append(anchored, "/"+p)
	}
	return anchored, append([]string(nil), m.unanchored...)
}

// Match reports whether the root-relative path name is excluded. A leading
// slash or "./" on name is ignored.
func (m *Matcher) Match(name string) bool {
	if m.Empty() {
		return false
	}
	name = cleanEntryName(name)
	if name == "" {
		return false
	}

	for p := name; p != "." && p != ""; p = path.Dir(p) {
		for _, pat := range m.anchored {
			if ok, _ := path.Match(pat, p); ok {
				return true
			}
		}
		if m.matchSuffix(p) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchSuffix(p string) bool {
	for _, pat := range m.unanchored {
		for s := p; ; {
			if ok, _ := path.Match(pat, s); ok {
				return true
			}
			i := strings.IndexByte(s, '/')
			if i < 0 {
				break
			}
			s = s[i+1:]
		}
	}
	return false
}

// cleanEntryName normalizes a tar member name to a root-relative path
// without a trailing slash. The root itself becomes "".
func cleanEntryName(name string) string {
	name = strings.TrimLeft(name, "/")
	name = path.Clean("/" + name)
	name = strings.TrimPrefix(name, "/")
	if name == "." {
		return ""
	}
	return name
}

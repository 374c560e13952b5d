package authz

import (
	"regexp"
	"strings"
	"sync"
)

// Tool patterns support two wildcards: `*` matches any run of characters
// except `.` (so "filesystem.*" stays inside one MCP) and `**` matches any
// run including `.`.

var (
	globMu    sync.RWMutex
	globCache = map[string]*regexp.Regexp{}
)

func compileGlob(pattern string) *regexp.Regexp {
	globMu.RLock()
	re, ok := globCache[pattern]
	globMu.RUnlock()
	if ok {
		return re
	}

	var b strings.Builder
	b.WriteString(`^`)
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(`.*`)
				i++
			} else {
				b.WriteString(`[^.]*`)
			}
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(pattern[i])))
	}
	b.WriteString(`$`)
	re = regexp.MustCompile(b.String())

	globMu.Lock()
	globCache[pattern] = re
	globMu.Unlock()
	return re
}

// MatchPattern reports whether toolName matches one pattern.
func MatchPattern(pattern, toolName string) bool {
	return compileGlob(pattern).MatchString(toolName)
}

// MatchAny reports whether toolName matches any pattern in the set.
func MatchAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if MatchPattern(p, toolName) {
			return true
		}
	}
	return false
}

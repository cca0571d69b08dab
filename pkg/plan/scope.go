package plan

import (
	"path"
	"strings"
)

// scopeContains reports whether the action scope is contained in the
// step's declared scope. Containment is checked on cleaned paths with
// glob support, not raw prefix string matching, so "/tmp/cache-evil"
// is not covered by "/tmp/cache/*" and "a/../../etc" cannot traverse out.
func scopeContains(stepScope, actionScope string) bool {
	if stepScope == "" || actionScope == "" {
		return false
	}

	step := cleanScope(stepScope)
	action := cleanScope(actionScope)

	// A cleaned action scope that still escapes upward is never contained.
	if action == ".." || strings.HasPrefix(action, "../") {
		return false
	}

	// "<dir>/*" and "<dir>/**" cover the directory subtree.
	for _, suffix := range []string{"/**", "/*"} {
		if strings.HasSuffix(step, suffix) {
			dir := strings.TrimSuffix(step, suffix)
			if dir == "" {
				dir = "/"
			}
			return action == dir || strings.HasPrefix(action, ensureSlash(dir))
		}
	}

	if action == step {
		return true
	}

	// Remaining globs match a single path segment set (hosts, db names,
	// non-subtree paths).
	if ok, err := path.Match(step, action); err == nil && ok {
		return true
	}
	return false
}

func cleanScope(s string) string {
	// Glob suffixes would be rewritten by path.Clean; strip and restore.
	for _, suffix := range []string{"/**", "/*"} {
		if strings.HasSuffix(s, suffix) {
			return path.Clean(strings.TrimSuffix(s, suffix)) + suffix
		}
	}
	return path.Clean(s)
}

func ensureSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

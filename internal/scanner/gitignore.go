package scanner

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
)

// gitignoreRule represents a single parsed .gitignore pattern.
type gitignoreRule struct {
	pattern  string
	negation bool // true if the pattern starts with !
	dirOnly  bool // true if the pattern ends with /
	anchored bool // true if the pattern contains / (should match from root)
}

// gitignorer holds all parsed gitignore rules and provides matching.
// Later rules win, as in git.
type gitignorer struct {
	rules []gitignoreRule
}

// loadGitignore parses a .gitignore file. A missing file yields an empty
// ignorer.
func loadGitignore(file string) (*gitignorer, error) {
	g := &gitignorer{}

	f, err := os.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return g, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		g.add(scanner.Text())
	}
	return g, scanner.Err()
}

// add parses and appends patterns. Blank lines and comments are ignored.
func (g *gitignorer) add(lines ...string) {
	for _, line := range lines {
		if rule, ok := parseRule(line); ok {
			g.rules = append(g.rules, rule)
		}
	}
}

func parseRule(line string) (gitignoreRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return gitignoreRule{}, false
	}

	rule := gitignoreRule{}
	if strings.HasPrefix(line, "!") {
		rule.negation = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	// A leading slash only anchors the pattern to the root.
	if strings.HasPrefix(line, "/") {
		line = line[1:]
		rule.anchored = true
	}
	if strings.Contains(line, "/") {
		rule.anchored = true
	}
	if line == "" {
		return gitignoreRule{}, false
	}
	rule.pattern = line
	return rule, true
}

// isIgnored returns true if the given slash-separated relative path should
// be ignored.
func (g *gitignorer) isIgnored(relPath string, isDir bool) bool {
	ignored := false
	for _, rule := range g.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		if matchesRule(relPath, rule) {
			ignored = !rule.negation
		}
	}
	return ignored
}

// matchesRule checks if a relative path matches a gitignore rule.
func matchesRule(relPath string, rule gitignoreRule) bool {
	if rule.anchored {
		return globMatch(rule.pattern, relPath)
	}
	if globMatch(rule.pattern, relPath) || globMatch(rule.pattern, path.Base(relPath)) {
		return true
	}
	parts := strings.Split(relPath, "/")
	for i := 1; i < len(parts); i++ {
		if globMatch(rule.pattern, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

// globMatch matches a pattern against a slash-separated path, supporting:
// - * matches any sequence of non-separator characters
// - ** matches any sequence including separators (any number of path components)
// - ? matches any single non-separator character
func globMatch(pattern, name string) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(pattern, "**"):
			pattern = strings.TrimPrefix(pattern[2:], "/")
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if globMatch(pattern, name[i:]) {
					return true
				}
			}
			return false

		case pattern[0] == '*':
			pattern = pattern[1:]
			if pattern == "" {
				return !strings.Contains(name, "/")
			}
			for i := 0; i <= len(name); i++ {
				if i > 0 && name[i-1] == '/' {
					return false
				}
				if globMatch(pattern, name[i:]) {
					return true
				}
			}
			return false

		case pattern[0] == '?':
			if len(name) == 0 || name[0] == '/' {
				return false
			}
			pattern = pattern[1:]
			name = name[1:]

		default:
			if len(name) == 0 || pattern[0] != name[0] {
				return false
			}
			pattern = pattern[1:]
			name = name[1:]
		}
	}
	return name == ""
}

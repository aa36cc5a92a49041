// Package sandbox validates filesystem-path tool arguments against an
// allow-listed set of root directories. Tool servers run out of
// process and operate on whatever paths they are handed, so the agent
// checks every path-bearing argument before a call leaves the host:
// a value is accepted only if its canonical form (".." and symlinks
// resolved) is equal to, or a descendant of, one of the configured
// roots.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// pathKeys is the fixed set of argument keys known to denote
// filesystem paths. Only these values are sandbox-checked; everything
// else passes through untouched.
var pathKeys = []string{"xml_path", "logo_path", "out_path", "dir_xml", "out_dir"}

// Violation reports a path argument that escaped every configured
// root. NearestRoot is the root sharing the longest prefix with the
// offending path, or empty when none do.
type Violation struct {
	Path        string
	NearestRoot string
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v.NearestRoot != "" {
		return fmt.Sprintf("path %q is outside sandbox (nearest root %q)", v.Path, v.NearestRoot)
	}
	return fmt.Sprintf("path %q is outside sandbox", v.Path)
}

// Sandbox holds the fixed set of allowed root directories. It is
// immutable after construction and safe for concurrent use.
type Sandbox struct {
	roots []string
}

// New creates a Sandbox from the given root directories. Each root is
// made absolute and canonical at construction; relative roots resolve
// against the current working directory. At least one root is required.
func New(roots []string) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one sandbox root is required")
	}
	canon := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := canonicalize(r)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox root %q: %w", r, err)
		}
		canon = append(canon, abs)
	}
	sort.Strings(canon)
	return &Sandbox{roots: canon}, nil
}

// Roots returns the canonical root set.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// IsAllowed reports whether path, after canonicalization, is equal to
// or a descendant of one of the configured roots.
func (s *Sandbox) IsAllowed(path string) bool {
	abs, err := canonicalize(path)
	if err != nil {
		return false
	}
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Sanitize validates every path-bearing argument in args. All keys are
// checked before the call proceeds, so a violation among several path
// arguments rejects the whole call with no partial side effects. On
// success the arguments are returned unchanged.
func (s *Sandbox) Sanitize(args map[string]any) (map[string]any, error) {
	for _, key := range pathKeys {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		str := fmt.Sprintf("%v", raw)
		if str == "" {
			continue
		}
		if !s.IsAllowed(str) {
			return nil, &Violation{Path: str, NearestRoot: s.nearestRoot(str)}
		}
	}
	return args, nil
}

// nearestRoot returns the configured root sharing the longest prefix
// with path, for diagnostics. Empty when no root shares a prefix.
func (s *Sandbox) nearestRoot(path string) string {
	abs, err := canonicalize(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	best := ""
	bestLen := 0
	for _, root := range s.roots {
		n := commonPrefixLen(abs, root)
		if n > bestLen {
			bestLen = n
			best = root
		}
	}
	if bestLen <= 1 { // only the leading separator in common
		return ""
	}
	return best
}

// canonicalize returns the absolute, cleaned form of path with
// symlinks resolved. The path itself may not exist yet (output
// arguments often point at files to be created), so symlinks are
// resolved on the deepest existing ancestor and the remainder is
// re-joined.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	existing := abs
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append(tail, filepath.Base(existing))
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		// Unreadable ancestor: fall back to the lexically cleaned path.
		resolved = existing
	}

	for i := len(tail) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, tail[i])
	}
	return resolved, nil
}

// commonPrefixLen returns the length of the longest path-component
// prefix shared by a and b.
func commonPrefixLen(a, b string) int {
	n := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
		if a[i] == filepath.Separator {
			n = i
		}
		if i == len(a)-1 || i == len(b)-1 {
			n = i + 1
		}
	}
	return n
}

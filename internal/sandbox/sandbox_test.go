package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newSandbox(t *testing.T, roots ...string) *Sandbox {
	t.Helper()
	s, err := New(roots)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewRequiresRoots(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty root list, got nil")
	}
}

func TestIsAllowed(t *testing.T) {
	root := t.TempDir()
	s := newSandbox(t, root)

	cases := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", root, true},
		{"direct child", filepath.Join(root, "invoice.xml"), true},
		{"nested child", filepath.Join(root, "a", "b", "invoice.xml"), true},
		{"parent", filepath.Dir(root), false},
		{"sibling", filepath.Join(filepath.Dir(root), "other"), false},
		{"dotdot escape", filepath.Join(root, "..", "secret.xml"), false},
		{"unrelated absolute", "/etc/passwd", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.IsAllowed(tc.path); got != tc.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestIsAllowedPrefixSibling(t *testing.T) {
	// /tmp/x/root must not admit /tmp/x/rootkit.
	base := t.TempDir()
	root := filepath.Join(base, "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	s := newSandbox(t, root)

	if s.IsAllowed(filepath.Join(base, "rootkit", "f.xml")) {
		t.Error("string-prefix sibling admitted")
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	for _, d := range []string{root, outside} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	s := newSandbox(t, root)
	if s.IsAllowed(filepath.Join(link, "f.xml")) {
		t.Error("symlink escaping the root was admitted")
	}
}

func TestSanitizeAllowsCleanArgs(t *testing.T) {
	root := t.TempDir()
	s := newSandbox(t, root)

	args := map[string]any{
		"xml_path": filepath.Join(root, "inv.xml"),
		"out_path": filepath.Join(root, "out", "inv.txt"),
		"theme":    "../not-a-path-key",
		"count":    3,
	}
	got, err := s.Sanitize(args)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if got["theme"] != "../not-a-path-key" {
		t.Error("non-path argument was modified")
	}
}

func TestSanitizeRejectsWholeCall(t *testing.T) {
	root := t.TempDir()
	s := newSandbox(t, root)

	escape := filepath.Join(root, "..", "secret.xml")
	args := map[string]any{
		"xml_path": filepath.Join(root, "ok.xml"),
		"out_path": escape,
	}
	got, err := s.Sanitize(args)
	if got != nil {
		t.Error("Sanitize returned args despite violation")
	}
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %T: %v", err, err)
	}
	if v.Path != escape {
		t.Errorf("Violation.Path = %q, want %q", v.Path, escape)
	}
}

func TestSanitizeSkipsAbsentAndEmpty(t *testing.T) {
	root := t.TempDir()
	s := newSandbox(t, root)

	args := map[string]any{"out_path": "", "logo_path": nil}
	if _, err := s.Sanitize(args); err != nil {
		t.Fatalf("Sanitize rejected absent/empty path args: %v", err)
	}
}

func TestMultipleRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	s := newSandbox(t, rootA, rootB)

	for _, p := range []string{
		filepath.Join(rootA, "a.xml"),
		filepath.Join(rootB, "b.xml"),
	} {
		if !s.IsAllowed(p) {
			t.Errorf("IsAllowed(%q) = false, want true", p)
		}
	}
}

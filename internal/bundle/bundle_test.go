package bundle

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestCreateAndOpen verifies the archive round trip and ignored files
func TestCreateAndOpen(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	data := filepath.Join(dir, "data")
	writeFiles(t, dir, map[string]string{"bin": "#!fake executable"})
	writeFiles(t, data, map[string]string{
		"products.json":     `[{"id":"1"}]`,
		"posts/hello.md":    "hi",
		"products.json~":    "backup",
		".#blog-posts.json": "lock",
	})

	out := filepath.Join(dir, "bundled")
	if err := Create(bin, data, out); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	r, err := Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	names := List(r)
	slices.Sort(names)
	if !slices.Equal(names, []string{"posts/hello.md", "products.json"}) {
		t.Errorf("Unexpected files %v", names)
	}
	got, err := fs.ReadFile(r, "products.json")
	if err != nil || string(got) != `[{"id":"1"}]` {
		t.Errorf("ReadFile = %q, %v", got, err)
	}

	// rebundling replaces the archive instead of stacking
	writeFiles(t, data, map[string]string{"products.json": `[]`})
	again := filepath.Join(dir, "again")
	if err := Create(out, data, again); err != nil {
		t.Fatalf("Create from bundled failed: %v", err)
	}
	r, err = Open(again)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got, _ := fs.ReadFile(r, "products.json"); string(got) != "[]" {
		t.Errorf("Expected replaced dataset, got %q", got)
	}
	raw, _ := os.ReadFile(again)
	if string(raw[:len("#!fake executable")]) != "#!fake executable" {
		t.Error("Expected executable prefix to be preserved")
	}
}

// TestOpenUnbundled verifies plain binaries report ErrNotBundled
func TestOpenUnbundled(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	writeFiles(t, dir, map[string]string{"bin": "plain binary content that is long enough"})
	if _, err := Open(bin); !errors.Is(err, ErrNotBundled) {
		t.Errorf("Expected ErrNotBundled, got %v", err)
	}
}

// TestExtract verifies extraction recreates the tree
func TestExtract(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	writeFiles(t, dir, map[string]string{"bin": "x"})
	writeFiles(t, data, map[string]string{"a.json": "1", "sub/b.yaml": "b: 2"})
	out := filepath.Join(dir, "bundled")
	if err := Create(filepath.Join(dir, "bin"), data, out); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	r, err := Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(dir, "extracted")
	if err := Extract(r, target); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(target, "sub", "b.yaml")); string(got) != "b: 2" {
		t.Errorf("Unexpected extracted content %q", got)
	}
}

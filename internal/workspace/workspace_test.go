package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"pkt.systems/coedit/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestResolveRejectsEscapes(t *testing.T) {
	store := newTestStore(t)

	escaping := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"..",
		"/etc/passwd",
		"..\\..\\windows.txt",
		"   ",
	}
	for _, p := range escaping {
		if _, _, err := store.Resolve(p); !errors.Is(err, ErrPathEscapes) {
			t.Errorf("Resolve(%q) = %v, want ErrPathEscapes", p, err)
		}
	}

	abs, canonical, err := store.Resolve("a\\b/./c.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if canonical != "a/b/c.txt" {
		t.Fatalf("canonical = %q", canonical)
	}
	if want := filepath.Join(store.Root(), "a", "b", "c.txt"); abs != want {
		t.Fatalf("abs = %q, want %q", abs, want)
	}
}

func TestCanonicalizeCollapsesAliases(t *testing.T) {
	store := newTestStore(t)

	cases := map[string]string{
		"x/../admin/a.txt": "admin/a.txt",
		"./notes.txt":      "notes.txt",
		"a//b/./c.txt":     "a/b/c.txt",
		"admin\\a.txt":     "admin/a.txt",
	}
	for in, want := range cases {
		got, err := store.Canonicalize(in)
		if err != nil || got != want {
			t.Errorf("Canonicalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := store.Canonicalize("../outside.txt"); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("Canonicalize escape = %v, want ErrPathEscapes", err)
	}
}

func TestRejectedPathsNeverTouchDisk(t *testing.T) {
	store := newTestStore(t)
	outside := filepath.Join(filepath.Dir(store.Root()), "victim.txt")

	if err := store.Write("../victim.txt", "pwned"); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("Write = %v, want ErrPathEscapes", err)
	}
	if _, err := os.Stat(outside); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("escaping write reached disk: %v", err)
	}
	if _, err := store.Read("../victim.txt"); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("Read = %v, want ErrPathEscapes", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("notes/hello.txt", "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), "notes", "hello.txt"))
	if err != nil {
		t.Fatalf("disk read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("disk content = %q", data)
	}

	content, err := store.Read("notes/hello.txt")
	if err != nil || content != "hello" {
		t.Fatalf("Read = %q, %v", content, err)
	}

	// Second identical write must remain idempotent.
	if err := store.Write("notes/hello.txt", "hello"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if content, _ := store.Read("notes/hello.txt"); content != "hello" {
		t.Fatalf("content after rewrite = %q", content)
	}
}

func TestReadPopulatesCacheFromDisk(t *testing.T) {
	store := newTestStore(t)
	abs := filepath.Join(store.Root(), "on-disk.txt")
	if err := os.WriteFile(abs, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("prepare file: %v", err)
	}

	if content, err := store.Read("on-disk.txt"); err != nil || content != "from disk" {
		t.Fatalf("Read = %q, %v", content, err)
	}

	// The cache now shadows the disk copy: removing the file must not affect
	// subsequent reads.
	if err := os.Remove(abs); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if content, _ := store.Read("on-disk.txt"); content != "from disk" {
		t.Fatalf("cached read = %q", content)
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	content, err := store.Read("never/created.txt")
	if err != nil || content != "" {
		t.Fatalf("Read = %q, %v; want empty, nil", content, err)
	}
}

func TestDeleteRemovesFileAndCache(t *testing.T) {
	store := newTestStore(t)
	if err := store.Write("gone.txt", "bye"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Delete("gone.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "gone.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still on disk: %v", err)
	}
	if content, _ := store.Read("gone.txt"); content != "" {
		t.Fatalf("stale cache after delete: %q", content)
	}
	// Deleting again is a no-op.
	if err := store.Delete("gone.txt"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListFiltersReservedNamespace(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"admin/secret.txt", "docs/readme.md", "main.py"} {
		if err := store.Write(p, "x"); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	userView := store.List(api.RoleUser)
	if slices.Contains(userView, "admin/secret.txt") {
		t.Fatalf("reserved path visible to user: %v", userView)
	}
	if !slices.Contains(userView, "docs/readme.md") || !slices.Contains(userView, "main.py") {
		t.Fatalf("missing public files: %v", userView)
	}

	adminView := store.List(api.RoleAdmin)
	if !slices.Contains(adminView, "admin/secret.txt") {
		t.Fatalf("reserved path missing for admin: %v", adminView)
	}
	if !slices.IsSorted(adminView) {
		t.Fatalf("listing not sorted: %v", adminView)
	}
}

func TestSeedDefaultManifest(t *testing.T) {
	store := newTestStore(t)
	if err := store.Seed(DefaultSeed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	content, err := store.Read("admin/welcome.txt")
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	if content != DefaultSeed[0].Content {
		t.Fatalf("seeded content = %q", content)
	}
}

func TestLoadSeedManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "seed.yaml")
	err := os.WriteFile(manifest, []byte("files:\n  - path: greeting.txt\n    content: hi there\n"), 0o644)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	files, err := LoadSeedManifest(manifest)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(files) != 1 || files[0].Path != "greeting.txt" || files[0].Content != "hi there" {
		t.Fatalf("unexpected manifest: %+v", files)
	}
}

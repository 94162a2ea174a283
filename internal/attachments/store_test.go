package attachments

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestSaveWritesUniqueFiles(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Save(strings.NewReader("one"), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Save(strings.NewReader("two"), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths for same original name")
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("failed to read stored file: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("unexpected file content %q", data)
	}
	if !strings.HasSuffix(first, "_photo.jpg") {
		t.Fatalf("expected original basename preserved, got %q", first)
	}
}

func TestSaveSanitizesTraversalNames(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Save(strings.NewReader("x"), "../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Fatalf("expected file inside store dir, got %q", path)
	}
}

func TestRemoveMissingFileIsNoOp(t *testing.T) {
	store := newTestStore(t)

	if err := store.Remove(""); err != nil {
		t.Fatalf("expected empty path no-op, got %v", err)
	}
	if err := store.Remove(filepath.Join(store.Dir(), "gone.jpg")); err != nil {
		t.Fatalf("expected missing file no-op, got %v", err)
	}
}

func TestRemoveRefusesOutsidePaths(t *testing.T) {
	store := newTestStore(t)

	outside := filepath.Join(t.TempDir(), "other.jpg")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	err := store.Remove(outside)
	if !errors.Is(err, errOutsideStore) {
		t.Fatalf("expected refusal for outside path, got %v", err)
	}
	if _, statErr := os.Stat(outside); statErr != nil {
		t.Fatalf("expected outside file untouched, got %v", statErr)
	}
}

func TestListReturnsStoredFiles(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Save(strings.NewReader("x"), "a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paths, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Fatalf("unexpected listing: %v", paths)
	}
}

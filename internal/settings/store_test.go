package settings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrSettingNotFound) {
		t.Fatalf("expected ErrSettingNotFound, got %v", err)
	}
}

func TestSetOverwritesExistingValue(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(context.Background(), "theme", "dark"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Set(context.Background(), "theme", "light"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, err := store.Get(context.Background(), "theme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "light" {
		t.Fatalf("expected overwritten value, got %q", value)
	}
}

func TestLastSelectedNoteRoundTrip(t *testing.T) {
	store := newTestStore(t)

	selected, err := store.LastSelectedNoteID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != NoSelection {
		t.Fatalf("expected NoSelection before any write, got %d", selected)
	}

	if err := store.SetLastSelectedNoteID(context.Background(), 12); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	selected, err = store.LastSelectedNoteID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != 12 {
		t.Fatalf("expected 12, got %d", selected)
	}
}

func TestLastSelectedNoteUnparseableValue(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(context.Background(), lastSelectedNoteKey, "garbage"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	selected, err := store.LastSelectedNoteID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != NoSelection {
		t.Fatalf("expected NoSelection for unparseable value, got %d", selected)
	}
}

func TestClearLastSelectedNoteOnlyWhenMatching(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetLastSelectedNoteID(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Clearing for a different note leaves the selection alone.
	if err := store.ClearLastSelectedNote(context.Background(), 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	selected, err := store.LastSelectedNoteID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != 5 {
		t.Fatalf("expected selection preserved, got %d", selected)
	}

	if err := store.ClearLastSelectedNote(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	selected, err = store.LastSelectedNoteID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != NoSelection {
		t.Fatalf("expected selection cleared, got %d", selected)
	}
}

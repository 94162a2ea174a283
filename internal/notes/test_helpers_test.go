package notes

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:fieldnotes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database: newTestDB(t),
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	return store
}

func mustSaveNote(t *testing.T, store *Store, note *Note) int64 {
	t.Helper()
	id, err := store.SaveNote(context.Background(), note)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	return id
}

func mustGetNote(t *testing.T, store *Store, id int64) Note {
	t.Helper()
	note, err := store.GetNote(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	return note
}

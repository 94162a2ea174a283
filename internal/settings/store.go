// Package settings persists small keyed application state, such as the last
// selected note, outside of in-process globals.
package settings

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/mossline/fieldnotes/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lastSelectedNoteKey = "last_selected_note_id"

// NoSelection is returned when no note selection has been recorded.
const NoSelection int64 = -1

// ErrSettingNotFound indicates the key has no stored value.
var ErrSettingNotFound = errors.New("settings: not found")

// Record is one persisted key/value pair.
type Record struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "settings"
}

// Store reads and writes settings records. Like the note store, schema setup
// is lazy and once-guarded.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
}

// StoreConfig describes the settings store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewStore constructs the settings store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errors.New("settings: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *Store) ensureInitialized(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = database.Migrate(s.db.WithContext(ctx), s.logger, []any{&Record{}}, nil)
	})
	return s.initErr
}

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return "", err
	}
	var record Record
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return record.Value, nil
}

// Set upserts the value for key. Idempotent.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}
	record := Record{Key: key, Value: value, UpdatedAtSeconds: s.clock().UTC().Unix()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&record).Error
}

// Delete removes the key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&Record{}).Error
}

// LastSelectedNoteID returns the persisted note selection, or NoSelection when
// none is recorded or the stored value does not parse.
func (s *Store) LastSelectedNoteID(ctx context.Context) (int64, error) {
	value, err := s.Get(ctx, lastSelectedNoteKey)
	if errors.Is(err, ErrSettingNotFound) {
		return NoSelection, nil
	}
	if err != nil {
		return NoSelection, err
	}
	id, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		s.logger.Warn("discarding unparseable note selection", zap.String("value", value))
		return NoSelection, nil
	}
	return id, nil
}

// SetLastSelectedNoteID persists the note selection.
func (s *Store) SetLastSelectedNoteID(ctx context.Context, id int64) error {
	return s.Set(ctx, lastSelectedNoteKey, strconv.FormatInt(id, 10))
}

// ClearLastSelectedNote drops the selection when it currently points at the
// given note, typically because that note was deleted.
func (s *Store) ClearLastSelectedNote(ctx context.Context, id int64) error {
	current, err := s.LastSelectedNoteID(ctx)
	if err != nil {
		return err
	}
	if current != id {
		return nil
	}
	return s.SetLastSelectedNoteID(ctx, NoSelection)
}

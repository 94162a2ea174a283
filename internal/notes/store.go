package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossline/fieldnotes/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNoteNotFound indicates the requested note does not exist locally.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrCategoryNotFound indicates the requested category does not exist.
	ErrCategoryNotFound = errors.New("notes: category not found")

	errMissingStoreDatabase = errors.New("notes: database handle is required")
)

// Older databases may carry NULL in image_path for rows written before the
// column existed; normalize them so string scans never trip on it.
const migrationBackfillImagePath = "2026-06-12_backfill_note_image_path"

// StoreConfig describes the dependencies of the local note store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the local relational store owning canonical note records and their
// numeric identity. Initialization is lazy and runs exactly once even under
// concurrent first use.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewStore constructs the local store. The schema is not touched until the
// first operation or an explicit Initialize call.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingStoreDatabase
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

// Initialize creates the backing tables if absent and seeds default categories
// when the category table is empty. Idempotent; concurrent callers serialize on
// a one-time guard and observe the same result.
func (s *Store) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize(ctx)
	})
	return s.initErr
}

func (s *Store) initialize(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	migrations := []database.Definition{
		{
			Name: migrationBackfillImagePath,
			Apply: func(g *gorm.DB) error {
				return g.Exec("UPDATE notes SET image_path = '' WHERE image_path IS NULL").Error
			},
		},
	}
	if err := database.Migrate(db, s.logger, []any{&Category{}, &Note{}}, migrations); err != nil {
		return err
	}

	var count int64
	if err := db.Model(&Category{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, name := range defaultCategoryNames {
		if err := db.Create(&Category{Name: name}).Error; err != nil {
			return err
		}
	}
	s.logger.Info("default categories seeded", zap.Int("count", len(defaultCategoryNames)))
	return nil
}

// ListCategories returns all categories in insertion order.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	var categories []Category
	if err := s.db.WithContext(ctx).Order("category_id ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// GetCategory fetches one category by id.
func (s *Store) GetCategory(ctx context.Context, id int64) (Category, error) {
	if err := s.Initialize(ctx); err != nil {
		return Category{}, err
	}
	var category Category
	err := s.db.WithContext(ctx).Where("category_id = ?", id).Take(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Category{}, fmt.Errorf("%w: id %d", ErrCategoryNotFound, id)
		}
		return Category{}, err
	}
	return category, nil
}

// SaveCategory inserts the category when its id is 0 (assigning a new id on the
// struct) and updates in place otherwise. The returned count is the number of
// affected rows; 0 on an update means the target no longer exists.
func (s *Store) SaveCategory(ctx context.Context, category *Category) (int64, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	db := s.db.WithContext(ctx)
	if category.ID == 0 {
		result := db.Create(category)
		return result.RowsAffected, result.Error
	}
	result := db.Model(&Category{}).Where("category_id = ?", category.ID).
		Update("name", category.Name)
	return result.RowsAffected, result.Error
}

// DeleteCategory removes the category row. Notes referencing it are left in
// place and surface as uncategorized in the list view.
func (s *Store) DeleteCategory(ctx context.Context, category Category) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("category_id = ?", category.ID).Delete(&Category{}).Error
}

// ListNotesWithCategory returns all notes ordered by creation timestamp
// descending, each annotated with its category's display name. A category id
// that does not resolve yields the uncategorized sentinel, not an error.
func (s *Store) ListNotesWithCategory(ctx context.Context) ([]NoteWithCategory, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	var records []Note
	err := s.db.WithContext(ctx).
		Order("created_at_s DESC").
		Order("note_id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	categories, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(categories))
	for _, category := range categories {
		names[category.ID] = category.Name
	}

	annotated := make([]NoteWithCategory, 0, len(records))
	for _, record := range records {
		name, ok := names[record.CategoryID]
		if !ok {
			name = UncategorizedLabel
		}
		annotated = append(annotated, NoteWithCategory{Note: record, CategoryName: name})
	}
	return annotated, nil
}

// GetNote fetches one note by id. Read errors other than a missing row are
// treated as a schema mismatch from additive model evolution: they are logged
// and degrade to not-found instead of propagating a raw storage error.
func (s *Store) GetNote(ctx context.Context, id int64) (Note, error) {
	if err := s.Initialize(ctx); err != nil {
		return Note{}, err
	}
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", id).Take(&note).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("note row failed to decode, treating as not found",
				zap.Int64("noteID", id),
				zap.Error(err))
		}
		return Note{}, fmt.Errorf("%w: id %d", ErrNoteNotFound, id)
	}
	return note, nil
}

// SaveNote inserts the note when its id is 0, assigning a new id and stamping
// the creation timestamp to the current UTC time. Otherwise it updates by id,
// leaving the original creation timestamp untouched regardless of what the
// caller passes. Returns the assigned or confirmed id.
func (s *Store) SaveNote(ctx context.Context, note *Note) (int64, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	db := s.db.WithContext(ctx)

	if note.ID == 0 {
		note.CreatedAtSeconds = s.clock().UTC().Unix()
		if err := db.Create(note).Error; err != nil {
			return 0, err
		}
		return note.ID, nil
	}

	result := db.Model(&Note{}).Where("note_id = ?", note.ID).
		Select("title", "content", "category_id", "latitude", "longitude", "image_path").
		Updates(map[string]any{
			"title":       note.Title,
			"content":     note.Content,
			"category_id": note.CategoryID,
			"latitude":    note.Latitude,
			"longitude":   note.Longitude,
			"image_path":  note.ImagePath,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: id %d", ErrNoteNotFound, note.ID)
	}
	return note.ID, nil
}

// DeleteNote removes the note row. Removing attachment files and the remote
// mirror document is the caller's concern.
func (s *Store) DeleteNote(ctx context.Context, note Note) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("note_id = ?", note.ID).Delete(&Note{}).Error
}

package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// Definition names a one-shot data migration applied after the schema for the
// owning store has been auto-migrated. Applied migrations are recorded and
// never re-run.
type Definition struct {
	Name  string
	Apply func(*gorm.DB) error
}

// Migrate auto-migrates the given models and then applies any recorded
// migrations that have not run yet. Auto-migration is additive: columns new to
// the model are added to older tables, existing rows keep NULL/default values.
func Migrate(db *gorm.DB, logger *zap.Logger, models []any, migrations []Definition) error {
	tables := append(models, &migrationRecord{})
	if err := db.AutoMigrate(tables...); err != nil {
		return err
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.Name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.Apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.Name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.Name))
		}
	}
	return nil
}

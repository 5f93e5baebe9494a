package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"propmock/internal/platform/storage/migrations"
)

// SlotEntry is one persisted key in the sqlite slot.
type SlotEntry struct {
	Key       string         `gorm:"column:slot_key;primaryKey;size:255"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (SlotEntry) TableName() string {
	return "slot_entries"
}

type sqliteSlot struct {
	db     *gorm.DB
	ownsDB bool
}

// OpenSQLite opens (and creates the directory for) a sqlite database and runs
// the slot migrations.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dir != "" && dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewSQLite builds a slot on top of db. When ownsDB is set, Close closes the
// underlying connection pool.
func NewSQLite(db *gorm.DB, ownsDB bool) (Slot, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite slot requires database handle")
	}
	mm := NewMigrationManager(db)
	mm.AddMigration(&migrations.Migration001SlotEntries{})
	if err := mm.RunMigrations(); err != nil {
		return nil, err
	}
	return &sqliteSlot{db: db, ownsDB: ownsDB}, nil
}

func (s *sqliteSlot) Load(ctx context.Context, key string) ([]byte, error) {
	var entry SlotEntry
	err := s.db.WithContext(ctx).Where("slot_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(entry.Payload), nil
}

func (s *sqliteSlot) Save(ctx context.Context, key string, value []byte) error {
	entry := SlotEntry{
		Key:       key,
		Payload:   datatypes.JSON(value),
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&entry).
		Error
}

func (s *sqliteSlot) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("slot_key = ?", key).Delete(&SlotEntry{}).Error
}

func (s *sqliteSlot) Close(context.Context) error {
	if !s.ownsDB {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

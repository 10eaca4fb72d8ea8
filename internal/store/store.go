package store

import (
	"fmt"

	"totem_pos/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the sqlite store and migrates the schema.
//
// The DSN forces BEGIN IMMEDIATE on every write transaction so a
// read-then-write (availability check followed by a reservation upsert) can
// never interleave with another writer's read-then-write. WAL plus a busy
// timeout lets concurrent request handlers queue on the single writer instead
// of failing fast with SQLITE_BUSY.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the core owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Location{},
		&model.Product{},
		&model.StockMovement{},
		&model.CartReservation{},
		&model.Order{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

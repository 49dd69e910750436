package database

import (
	"github.com/ksred/autopilot/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes a GORM connection at the given path and migrates the
// engine schema.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the engine schema. Exposed so tests can migrate in-memory
// databases without going through NewDatabase.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.StandingOrder{},
		&types.ExecutionRecord{},
		&types.Intent{},
		&types.Step{},
		&types.MonitoringRule{},
		&types.IdempotencyRecord{},
	)
}

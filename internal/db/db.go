// Package db provides database connection and management functionality
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"itemuploader/internal/models"
)

// Setup opens the database selected by DB_DRIVER and runs migrations.
// Connection failures are fatal.
func Setup() *gorm.DB {
	dialector := dialectorFromConfig()

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	if err := Migrate(db); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}

	logrus.WithField("driver", viper.GetString("DB_DRIVER")).Info("Database initialized successfully")
	return db
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Worksheet{},   // stored spreadsheet tabs
		&models.PipelineRun{}, // run history
		&models.ExportFile{},  // generated workbooks
	)
}

// OpenMemory returns a migrated in-memory sqlite database.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a second pooled connection would see a different empty database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func dialectorFromConfig() gorm.Dialector {
	if viper.GetString("DB_DRIVER") == "sqlite" {
		return sqlite.Open(viper.GetString("SQLITE_PATH"))
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("DB_HOST"),
		viper.GetString("DB_USER"),
		viper.GetString("DB_PASSWORD"),
		viper.GetString("DB_NAME"),
		viper.GetString("DB_PORT"))
	return postgres.Open(dsn)
}

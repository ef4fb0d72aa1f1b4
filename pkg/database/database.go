package database

import (
	"fmt"
	"frbench/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDBConnection opens the results database. It returns nil when
// DATABASE_URL is not set.
func NewDBConnection(appConfig *config.AppConfig, log *zap.Logger) (*gorm.DB, error) {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		log.Debug("DATABASE_URL not set, survival rows will not be stored")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.AutoMigrate(&BugMedian{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Debug("connected to database")
	return db, nil
}

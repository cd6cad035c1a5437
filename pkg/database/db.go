package database

import (
	"fmt"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the postgres database at databaseURL, or at the DSN built
// from the DB_* variables when databaseURL is empty.
func Connect(databaseURL string) (*gorm.DB, error) {
	dsn := databaseURL
	if dsn == "" {
		dsn = DSNFromEnv()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// duplicate keys surface as gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func DSNFromEnv() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		valueOrDefault("DB_HOST", "localhost"),
		valueOrDefault("DB_USER", "postgres"),
		os.Getenv("DB_PASS"),
		valueOrDefault("DB_NAME", "fellowship"),
		valueOrDefault("DB_PORT", "5432"),
	)
}

func valueOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

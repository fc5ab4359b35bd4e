package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatvoice/internal/platform/storage/migrations"
)

// Open opens the SQLite database at dsn and applies all migrations. File DSNs
// get their parent directory created; "file:" URIs and ":memory:" are passed
// through untouched.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = Close(db)
		return nil, err
	}
	return db, nil
}

// Migrate registers and runs the schema migrations.
func Migrate(ctx context.Context, db *gorm.DB) error {
	mgr := NewMigrationManager(db)
	mgr.AddMigration(&migrations.Migration001AudioCache{})
	return mgr.RunMigrations(ctx)
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package datastore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/echo-music/echo-server/internal/conf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	if path == "" {
		return fmt.Errorf("sqlite database path is empty")
	}

	// In-memory databases are used verbatim, mostly by tests
	absolutePath := path
	if !strings.Contains(path, ":memory:") {
		dir, fileName := filepath.Split(path)
		basePath := conf.GetBasePath(dir)
		absolutePath = filepath.Join(basePath, fileName)
	}

	db, err := gorm.Open(sqlite.Open(absolutePath), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "SQLite", absolutePath)
}

// Close closes the SQLite database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying database handle: %w", err)
	}
	return sqlDB.Close()
}

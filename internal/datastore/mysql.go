package datastore

import (
	"fmt"

	"github.com/echo-music/echo-server/internal/conf"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLStore implements DataStore for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the MySQL database connection and runs migrations.
func (store *MySQLStore) Open() error {
	cfg := store.Settings.Database.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	connInfo := fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)
	return performAutoMigration(db, store.Settings.Debug, "MySQL", connInfo)
}

// Close closes the MySQL database connection.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying database handle: %w", err)
	}
	return sqlDB.Close()
}

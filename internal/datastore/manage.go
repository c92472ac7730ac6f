package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/echo-music/echo-server/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	// slowQueryThreshold defines the duration after which a query is considered
	// slow. One second accommodates migration batch queries.
	slowQueryThreshold = 1 * time.Second
)

// createGormLogger configures and returns a new GORM logger instance backed by
// the datastore slog logger.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		slogWriter{logger: getLogger()},
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// slogWriter adapts slog to GORM's logger.Writer interface.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(fmt.Sprintf(format, args...))
}

var datastoreLogger *slog.Logger

func getLogger() *slog.Logger {
	if datastoreLogger == nil {
		datastoreLogger = logging.ForService("datastore")
	}
	return datastoreLogger
}

// performAutoMigration runs GORM automigration for all model tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Artist{},
		&Album{},
		&Track{},
		&CustomImage{},
		&MetadataCache{},
		&SearchCache{},
		&MetadataConflict{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.Debug("Database initialized",
			"type", dbType,
			"connection", connectionInfo)
	}

	return nil
}

// Package logging initializes the application's slog loggers and provides
// per-service file loggers with rotation.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames customizes level names so TRACE and FATAL render correctly.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

func newHandlers(structuredOut, humanOut io.Writer, structuredLevel, humanLevel slog.Leveler) (slog.Handler, slog.Handler) {
	structured := slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       structuredLevel,
		ReplaceAttr: replaceLevelNames,
	})
	human := slog.NewTextHandler(humanOut, &slog.HandlerOptions{
		Level:       humanLevel,
		ReplaceAttr: replaceLevelNames,
	})
	return structured, human
}

// Init initializes the logging system with structured and human-readable loggers.
// It configures JSON output for structured logs and Text output for human-readable logs.
func Init() {
	structuredHandler, humanHandler := newHandlers(os.Stdout, os.Stderr, slog.LevelDebug, slog.LevelInfo)
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanHandler)

	// Structured logger is the application default
	slog.SetDefault(structuredLogger)
}

// SetLevel sets the minimum logging level for both loggers by re-initializing
// their handlers.
func SetLevel(level slog.Level) {
	structuredHandler, humanHandler := newHandlers(os.Stdout, os.Stderr, level, level)
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanHandler)
	slog.SetDefault(structuredLogger)
}

// SetOutput allows redirecting logger output, e.g., for tests.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	structuredHandler, humanHandler := newHandlers(structuredOutput, humanReadableOutput, slog.LevelDebug, slog.LevelInfo)
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanHandler)
	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// It uses the global structured logger as the base.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// File logger rotation defaults, overridable per call through Rotation.
const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

// Rotation configures file logger rotation. Zero values use package defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileLogger creates a new slog.Logger instance configured to write JSON
// logs to the specified file path using lumberjack for rotation. It includes a
// 'service' attribute in all logs.
// It returns the logger, a function to close the underlying log writer, and an
// error if setup fails.
func NewFileLogger(filePath, serviceName string, level slog.Leveler) (*slog.Logger, func() error, error) {
	return NewFileLoggerWithRotation(filePath, serviceName, level, Rotation{})
}

// NewFileLoggerWithRotation is NewFileLogger with explicit rotation settings.
func NewFileLoggerWithRotation(filePath, serviceName string, level slog.Leveler, rot Rotation) (*slog.Logger, func() error, error) {
	// Ensure the directory exists (lumberjack doesn't create directories)
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	if rot.MaxSizeMB <= 0 {
		rot.MaxSizeMB = defaultMaxSizeMB
	}
	if rot.MaxBackups <= 0 {
		rot.MaxBackups = defaultMaxBackups
	}
	if rot.MaxAgeDays <= 0 {
		rot.MaxAgeDays = defaultMaxAgeDays
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   false,
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})

	logger := slog.New(fileHandler).With("service", serviceName)

	closeFunc := func() error {
		return logWriter.Close()
	}

	return logger, closeFunc, nil
}

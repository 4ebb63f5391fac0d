package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tasklist/internal/logging"
	"tasklist/internal/model"
)

const defaultDSN = "tasklist.db"

// NewDB opens the SQLite database behind dsn and migrates the schema.
// Queries slower than a second are logged as warnings; with LOG_LEVEL=debug
// every statement is logged.
func NewDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if path, ok := sqliteFile(dsn); ok {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir %q: %w", dir, err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dsn, err)
	}

	// SQLite has a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logging.Logger.Debugf("database ready dsn=%s", dsn)
	return db, nil
}

func gormLogger() logger.Interface {
	level := logger.Warn
	if logging.Logger.IsLevelEnabled(logrus.DebugLevel) {
		level = logger.Info
	}
	return logger.New(logging.Logger, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// sqliteFile returns the on-disk path named by dsn, if there is one.
func sqliteFile(dsn string) (string, bool) {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return "", false
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return path, path != ""
}

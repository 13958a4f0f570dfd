// Package repo implements the data persistence layer for the bot's
// bookkeeping stores, backed by GORM. This file contains database
// bootstrapping helpers for SQLite (pure Go driver), schema migrations, and
// the scoped-transaction helper every multi-write mutation goes through.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
// Parent directories are created if absent; a failure here is fatal for the
// store and should abort startup.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// PRAGMAs. busy_timeout matters most: several worker processes share
	// these tables and WAL writers still serialize.
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate applies the idempotent schema for every bookkeeping table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Hit{},
		&domain.BlacklistEntry{},
		&domain.SeenThing{},
		&domain.ReplyRecord{},
		&domain.QueueEntry{},
	)
}

// WithTx runs fn inside a transaction: commit on nil return, rollback on
// error or panic. Related writes (e.g. "record reply" + "delete queue
// entry") must go through here so they land atomically.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

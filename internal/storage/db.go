// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/voicecore/pkg/commons"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open opens (creating if necessary) the SQLite database at path, running
// every pending embedded migration before returning. walMode mirrors the
// audit config's wal_mode flag.
func Open(path string, walMode bool, log commons.Logger) (*gorm.DB, error) {
	dsn := path
	if walMode {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open sqlite at %s: %w", path, err)
	}

	if err := applyMigrations(path, log); err != nil {
		return nil, err
	}

	return db, nil
}

func applyMigrations(path string, log commons.Logger) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: failed to load embedded migrations: %w", err)
	}

	// The "sqlite3://" URL form opens and owns its own *sql.DB handle,
	// separate from the one gorm opened above; migrate closes it via
	// m.Close().
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return fmt.Errorf("storage: failed to init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migration failed: %w", err)
	}

	log.Infof("storage: migrations applied at %s", path)
	return nil
}
